package models

import (
	"errors"
	"testing"
)

func TestEnrichRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		req     EnrichRequest
		wantErr bool
	}{
		{"id only", EnrichRequest{Kind: EnrichClassify, TranscriptID: "sample_01"}, false},
		{"text only", EnrichRequest{Kind: EnrichTopics, Text: "internet lento"}, false},
		{"both", EnrichRequest{Kind: EnrichTopics, TranscriptID: "sample_01", Text: "internet"}, true},
		{"neither", EnrichRequest{Kind: EnrichTopics}, true},
		{"blank text counts as unset", EnrichRequest{Kind: EnrichTopics, Text: "  \n"}, true},
		{"blank id with text", EnrichRequest{Kind: EnrichTopics, TranscriptID: " ", Text: "hola"}, false},
		{"unknown kind", EnrichRequest{Kind: "summary", Text: "hola"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				var verr *ValidationError
				if !errors.As(err, &verr) {
					t.Errorf("expected *ValidationError, got %T", err)
				}
			}
		})
	}
}

package embedding

import (
	"context"
	"strings"
	"unicode"

	"github.com/hyperjump/callscope/pkg/utils"
)

// LexiconModel is the model name reported by LexiconEmbedder.
const LexiconModel = "lexicon-v1"

const (
	lexiconHashDims  = 128
	conceptWeight    = 1.0
	hashedTermWeight = 0.3
)

// conceptGroups maps customer-service concepts to the accent-folded Spanish terms that
// signal them. Each group owns one vector dimension.
var conceptGroups = [][]string{
	// connectivity
	{"internet", "conexion", "conectar", "conecta", "conectado", "desconecta", "desconectado", "lento", "lenta",
		"lentitud", "red", "wifi", "senal", "router", "modem", "fibra", "velocidad", "caida", "cortado", "corte",
		"navegar", "navegacion", "megas", "banda"},
	// billing
	{"cobro", "cobrar", "cobraron", "cobrado", "boleta", "factura", "facturacion", "pago", "pagar", "pague",
		"duplicado", "monto", "cargo", "deuda", "precio", "descuento", "reembolso", "devolucion", "saldo"},
	// plan changes
	{"plan", "cambio", "cambiar", "contratar", "mejorar", "oferta", "promocion", "portabilidad", "paquete",
		"servicio", "upgrade"},
	// technical support
	{"problema", "falla", "funciona", "error", "tecnico", "visita", "reiniciar", "soporte", "reparar", "averia",
		"configurar", "configuracion"},
	// complaints
	{"reclamo", "queja", "molesto", "insatisfecho", "pesimo", "cancelar", "baja", "sernac", "malo", "demora"},
	// account administration
	{"clave", "contrasena", "usuario", "acceso", "datos", "direccion", "titular", "contrato", "documento"},
	// mobile
	{"celular", "movil", "telefono", "sim", "chip", "roaming", "llamada", "minuto", "prepago"},
}

var spanishStopwords = map[string]struct{}{
	"a": {}, "al": {}, "de": {}, "del": {}, "el": {}, "en": {}, "es": {}, "la": {}, "las": {}, "le": {},
	"lo": {}, "los": {}, "me": {}, "mi": {}, "muy": {}, "no": {}, "o": {}, "para": {}, "pero": {}, "por": {},
	"que": {}, "se": {}, "si": {}, "su": {}, "un": {}, "una": {}, "y": {}, "ya": {}, "con": {}, "mis": {},
}

var conceptIndex = func() map[string]int {
	idx := make(map[string]int)
	for g, terms := range conceptGroups {
		for _, t := range terms {
			idx[t] = g
		}
	}
	return idx
}()

// LexiconEmbedder is an offline embedder for Spanish customer-service text. Each vector
// has one dimension per concept group followed by hashed term dimensions, so texts about
// the same concept land close together without any network call.
type LexiconEmbedder struct{}

// NewLexiconEmbedder returns a LexiconEmbedder.
func NewLexiconEmbedder() *LexiconEmbedder { return &LexiconEmbedder{} }

// Embed returns the unit-length lexicon vector for text. Text with no content words
// yields the zero vector.
func (e *LexiconEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, e.Dimensions())
	for _, tok := range tokenize(text) {
		if g, ok := lookupConcept(tok); ok {
			vec[g] += conceptWeight
		}
		vec[len(conceptGroups)+HashString(tok)%lexiconHashDims] += hashedTermWeight
	}
	utils.NormalizeL2(vec)
	return vec, nil
}

// EmbedBatch embeds each text independently.
func (e *LexiconEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (e *LexiconEmbedder) Dimensions() int { return len(conceptGroups) + lexiconHashDims }

func (e *LexiconEmbedder) Model() string { return LexiconModel }

func (e *LexiconEmbedder) Close() error { return nil }

func tokenize(text string) []string {
	words := strings.FieldsFunc(utils.FoldAccents(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := words[:0]
	for _, w := range words {
		if _, stop := spanishStopwords[w]; !stop {
			out = append(out, w)
		}
	}
	return out
}

// lookupConcept finds the concept group of tok, trying plural-stripped forms.
func lookupConcept(tok string) (int, bool) {
	if g, ok := conceptIndex[tok]; ok {
		return g, true
	}
	if len(tok) > 4 && strings.HasSuffix(tok, "es") {
		if g, ok := conceptIndex[strings.TrimSuffix(tok, "es")]; ok {
			return g, true
		}
	}
	if len(tok) > 3 && strings.HasSuffix(tok, "s") {
		if g, ok := conceptIndex[strings.TrimSuffix(tok, "s")]; ok {
			return g, true
		}
	}
	return 0, false
}

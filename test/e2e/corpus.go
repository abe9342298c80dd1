// Package e2e provides end-to-end tests over a generated corpus of call logs.
package e2e

import (
	"fmt"
	"strings"
)

// Concept names a customer-service theme shared by several scenarios.
type Concept string

const (
	Connectivity Concept = "connectivity"
	Billing      Concept = "billing"
	Plans        Concept = "plans"
	Support      Concept = "support"
	Complaints   Concept = "complaints"
	Account      Concept = "account"
	Mobile       Concept = "mobile"
)

// Call is one generated call: an id, the scenario it was built from and its dialogue.
type Call struct {
	ID       string
	Scenario int
	Concept  Concept
	Agent    string
	Date     string
	Turns    []Turn
}

// Turn is one dialogue line.
type Turn struct {
	Speaker string
	Text    string
}

// Text joins the dialogue the way the transcript parser does.
func (c Call) Text() string {
	parts := make([]string, len(c.Turns))
	for i, t := range c.Turns {
		parts[i] = t.Text
	}
	return strings.Join(parts, " ")
}

// KeywordCase is a phrase that appears in every call of exactly one scenario.
type KeywordCase struct {
	Phrase      string
	ExpectedIDs []string
}

// SemanticCase is a free-text query whose nearest calls must share Concept.
type SemanticCase struct {
	Query   string
	Concept Concept
}

// Corpus is the generated call set plus the queries run against it.
type Corpus struct {
	Calls         []Call
	KeywordCases  []KeywordCase
	SemanticCases []SemanticCase
}

type scenario struct {
	concept  Concept
	phrase   string
	customer string
}

var scenarios = []scenario{
	{Connectivity, "el router parpadea en rojo", "Desde el lunes el router parpadea en rojo, el internet está lento y la señal wifi se corta."},
	{Connectivity, "fibra cortada en la calle", "Hay una fibra cortada en la calle y me quedé sin conexión ni velocidad de navegación."},
	{Billing, "cobro duplicado en la boleta", "Me llegó un cobro duplicado en la boleta de marzo y quiero el reembolso del monto."},
	{Billing, "descuento no aplicado", "Tengo un descuento no aplicado en la factura y el saldo de la deuda subió."},
	{Plans, "portabilidad desde otra compañía", "Quiero contratar un plan con portabilidad desde otra compañía si hay oferta o promoción."},
	{Plans, "paquete de televisión", "Me interesa mejorar mi paquete de televisión y cambiar el plan por uno con promoción."},
	{Support, "técnico nunca llegó", "El técnico nunca llegó a la visita, la falla sigue y necesito soporte para reparar el equipo."},
	{Complaints, "reclamo formal al sernac", "Estoy molesto, voy a poner un reclamo formal al sernac por la pésima atención y la demora."},
	{Account, "recuperar la clave de acceso", "Necesito recuperar la clave de acceso porque el usuario titular del contrato perdió la contraseña."},
	{Mobile, "chip del celular bloqueado", "Tengo el chip del celular bloqueado y no puedo usar roaming ni el prepago del móvil."},
}

var agents = []string{"Camila", "Ignacio", "Valentina", "Matías", "Fernanda", "Joaquín"}

// VariantsPerScenario is how many calls each scenario contributes.
const VariantsPerScenario = 6

// BuildCorpus returns len(scenarios)*VariantsPerScenario calls with their query cases.
func BuildCorpus() *Corpus {
	c := &Corpus{}
	byScenario := make(map[int][]string)
	for s, sc := range scenarios {
		for v := 0; v < VariantsPerScenario; v++ {
			agent := agents[v%len(agents)]
			id := fmt.Sprintf("call-%02d-%d", s+1, v+1)
			c.Calls = append(c.Calls, Call{
				ID:       id,
				Scenario: s,
				Concept:  sc.concept,
				Agent:    agent,
				Date:     fmt.Sprintf("2024-03-%02d", s+v+1),
				Turns: []Turn{
					{"AGENTE", fmt.Sprintf("Buenas tardes, le habla %s de atención al cliente.", agent)},
					{"CLIENTE", sc.customer},
					{"AGENTE", "Entiendo, dejo registrado el caso y le enviamos la respuesta por correo."},
					{"CLIENTE", "Perfecto, muchas gracias."},
				},
			})
			byScenario[s] = append(byScenario[s], id)
		}
	}
	for s, sc := range scenarios {
		c.KeywordCases = append(c.KeywordCases, KeywordCase{Phrase: sc.phrase, ExpectedIDs: byScenario[s]})
	}
	c.SemanticCases = []SemanticCase{
		{"internet lento y sin señal", Connectivity},
		{"me cobraron dos veces en la factura", Billing},
		{"chip del teléfono sin roaming", Mobile},
		{"quiero poner una queja", Complaints},
	}
	return c
}

// IDsByConcept returns the ids of every call about concept.
func (c *Corpus) IDsByConcept(concept Concept) map[string]bool {
	out := make(map[string]bool)
	for _, call := range c.Calls {
		if call.Concept == concept {
			out[call.ID] = true
		}
	}
	return out
}

package profile

import (
	"fmt"
	"sort"
	"strings"
	"unicode"
)

// italianAlphabet maps letters to the Italian spelling alphabet, used
// when the assistant must spell the codice fiscale over the phone.
var italianAlphabet = map[rune]string{
	'A': "Ancona", 'B': "Bologna", 'C': "Como", 'D': "Domodossola",
	'E': "Empoli", 'F': "Firenze", 'G': "Genova", 'H': "Hotel",
	'I': "Imola", 'J': "Jolly", 'K': "Kappa", 'L': "Livorno",
	'M': "Milano", 'N': "Napoli", 'O': "Otranto", 'P': "Palermo",
	'Q': "Quarto", 'R': "Roma", 'S': "Savona", 'T': "Torino",
	'U': "Udine", 'V': "Venezia", 'W': "Washington", 'X': "Xilofono",
	'Y': "Yogurt", 'Z': "Zara",
}

// SpellItalian spells text letter by letter with the Italian alphabet.
// Digits and unknown characters pass through unchanged.
func SpellItalian(text string) string {
	var parts []string
	for _, r := range strings.ToUpper(text) {
		if city, ok := italianAlphabet[r]; ok {
			parts = append(parts, fmt.Sprintf("%c come %s", r, city))
		} else if unicode.IsDigit(r) {
			parts = append(parts, string(r))
		} else {
			parts = append(parts, string(r))
		}
	}
	return strings.Join(parts, ", ")
}

// OpeningLine is the fixed greeting spoken when a call connects.
func (p *ConversationProfile) OpeningLine() string {
	name := p.FirstName()
	if name == "" {
		name = "qui"
	}
	return fmt.Sprintf("Pronto. Sì, sono %s. Mi scusi, sono inglese e il mio italiano non è perfetto — parlo lentamente ma capisco bene. Mi dica pure.", name)
}

// BuildSystemPrompt renders the full system prompt for the response
// generator, injecting the profile into role, identity, address,
// account and behavioural sections.
func (p *ConversationProfile) BuildSystemPrompt() string {
	name := p.Identity.Name
	if name == "" {
		name = "il proprietario"
	}
	comune := p.Location.Address.Comune
	if comune == "" {
		comune = "Italia"
	}

	var b strings.Builder

	fmt.Fprintf(&b, "Sei un assistente telefonico per %s, un inglese che vive a %s.\n\n", name, comune)
	b.WriteString("## IL TUO RUOLO\n")
	b.WriteString("Sei un assistente vocale gentile che risponde alle chiamate. Il proprietario capisce l'italiano scritto ma ha difficoltà con le conversazioni telefoniche. Tu fai da intermediario.\n\n")

	b.WriteString("## APERTURA CHIAMATE\n")
	fmt.Fprintf(&b, "Rispondi SEMPRE così:\n%q\n\n", p.OpeningLine())

	b.WriteString("## IDENTITÀ\n")
	fmt.Fprintf(&b, "- Nome completo: %s\n", name)
	fmt.Fprintf(&b, "- Codice fiscale: %s\n", p.Identity.CodiceFiscale)
	if cf := p.Identity.CodiceFiscale; cf != "" {
		fmt.Fprintf(&b, "- Se devi sillabare il codice fiscale, usa l'alfabeto italiano:\n  %s\n", SpellItalian(cf))
	}
	b.WriteString("\n")

	b.WriteString("## INDIRIZZO\n")
	fmt.Fprintf(&b, "- Indirizzo: %s\n", strings.ReplaceAll(p.FormattedAddress(), "\n", ", "))
	fmt.Fprintf(&b, "- Varianti accettate: %s\n\n", joinOr(firstN(p.Location.AddressVariants, 3), "nessuna"))

	b.WriteString("## INDICAZIONI PER CORRIERI\n")
	if d := p.Location.Directions.FromMainRoad; d != "" {
		b.WriteString(d + "\n")
	} else {
		b.WriteString("Indicazioni non configurate.\n")
	}
	fmt.Fprintf(&b, "Punti di riferimento: %s\n", joinOr(p.Location.Directions.Landmarks, "nessuno"))
	fmt.Fprintf(&b, "Descrizione casa: %s\n\n", orElse(p.Location.Directions.HouseDescription, "non specificata"))

	b.WriteString("## ACCOUNT E UTENZE\n")
	b.WriteString(p.accountsSection())
	b.WriteString("\n\n")

	b.WriteString("## INFORMAZIONI PER VERIFICHE IDENTITÀ\n")
	b.WriteString("Se chiedono di verificare la tua identità, puoi usare queste informazioni:\n")
	b.WriteString(p.verificationSection())
	b.WriteString("\n\n")

	b.WriteString("## VICINI E CONSEGNE\n")
	fmt.Fprintf(&b, "- Vicino di fiducia: %s\n", orElse(p.House.NeighbourName, "non specificato"))
	fmt.Fprintf(&b, "- Posto sicuro per pacchi: %s\n\n", orElse(p.House.SafePlace, "non specificato"))

	b.WriteString("## DISPONIBILITÀ\n")
	fmt.Fprintf(&b, "- Giorni preferiti: %s\n", joinOr(p.Preferences.AvailableDays, "tutti i giorni"))
	fmt.Fprintf(&b, "- Orario preferito: %s\n\n", orElse(p.Preferences.PreferredTime, "mattina"))

	b.WriteString(promptRules)

	return b.String()
}

func (p *ConversationProfile) accountsSection() string {
	if len(p.Accounts) == 0 {
		return "Nessun account configurato."
	}

	keys := make([]string, 0, len(p.Accounts))
	for k := range p.Accounts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sections []string
	for _, k := range keys {
		acc := p.Accounts[k]
		provider := acc.Provider
		if provider == "" {
			provider = k
		}
		lines := []string{fmt.Sprintf("**%s** (%s)", provider, acc.Type)}
		for _, id := range []struct{ key, label string }{
			{"codice_cliente", "Codice cliente"},
			{"pod", "POD"},
			{"pdr", "PDR"},
			{"codice_utenza", "Codice utenza"},
		} {
			if v := acc.Identifiers[id.key]; v != "" {
				lines = append(lines, fmt.Sprintf("  - %s: %s", id.label, v))
			}
		}
		if phone := acc.Contact["phone"]; phone != "" {
			lines = append(lines, fmt.Sprintf("  - Servizio clienti: %s", phone))
		}
		sections = append(sections, strings.Join(lines, "\n"))
	}
	return strings.Join(sections, "\n\n")
}

func (p *ConversationProfile) verificationSection() string {
	if len(p.Verification) == 0 {
		return "Nessuna informazione di verifica."
	}

	keys := make([]string, 0, len(p.Verification))
	for k := range p.Verification {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var lines []string
	for _, k := range keys {
		qa := p.Verification[k]
		lines = append(lines, fmt.Sprintf("- %s: %s", qa.Question, qa.Answer))
	}
	return strings.Join(lines, "\n")
}

// LocationMessage renders the SMS body with the address, directions and
// maps link for couriers.
func (p *ConversationProfile) LocationMessage() string {
	var parts []string
	if addr := p.FormattedAddress(); addr != "" {
		parts = append(parts, addr)
	}
	if d := p.Location.Directions.FromMainRoad; d != "" {
		parts = append(parts, d)
	}
	if g := p.Location.GateCode; g != "" {
		parts = append(parts, "Codice cancello: "+g)
	}
	if u := p.Location.GoogleMapsURL; u != "" {
		parts = append(parts, u)
	} else if p.Location.Coordinates.Lat != "" && p.Location.Coordinates.Lon != "" {
		parts = append(parts, fmt.Sprintf("https://maps.google.com/?q=%s,%s",
			p.Location.Coordinates.Lat, p.Location.Coordinates.Lon))
	}
	return strings.Join(parts, "\n")
}

// quickResponses short-circuits the response generator for greetings and
// pleasantries that never need the model.
var quickResponses = map[string]string{
	"pronto":       "Pronto. Sì, sono qui. Mi dica.",
	"buongiorno":   "Buongiorno. Mi dica pure.",
	"buonasera":    "Buonasera. Mi dica pure.",
	"ok":           "Perfetto.",
	"va bene":      "Perfetto, grazie.",
	"d'accordo":    "Perfetto.",
	"grazie":       "Prego.",
	"grazie mille": "Prego, grazie a lei.",
	"arrivederci":  "Arrivederci.",
	"ciao":         "Arrivederci.",
}

// QuickResponse returns a canned reply for trivial inputs, or false when
// the full response generator is needed.
func QuickResponse(text string) (string, bool) {
	normalized := strings.TrimRight(strings.TrimSpace(strings.ToLower(text)), ".,!?")
	reply, ok := quickResponses[normalized]
	return reply, ok
}

const promptRules = `## REGOLE IMPORTANTI

### MAI fare:
- Dare dettagli bancari (IBAN, carte, PIN)
- Accettare contratti o modifiche contrattuali
- Confermare pagamenti o importi da pagare
- Dare il consenso per attivazioni o disattivazioni

Per questi argomenti, rispondi:
"Su questo punto preferisco far parlare direttamente il proprietario. Posso richiamarvi?"

### SEMPRE fare:
- Confermare appuntamenti per tecnici/installazioni
- Dare indicazioni stradali ai corrieri
- Confermare che sei il titolare dell'account
- Chiedere di ripetere se non capisci
- Essere cortese e paziente

### CHIAMATE COMMERCIALI (telemarketing):
Se è una chiamata commerciale o vendita:
"No grazie, non mi interessa. Arrivederci."
E termina la conversazione.

## FRASI UTILI
- Non ho capito: "Mi scusi, può ripetere?"
- Prendere tempo: "Un attimo, per favore." / "Un momento che verifico..."
- Confermare: "Quindi, se ho capito bene, [riassunto]. Giusto?"
- Passare al proprietario: "Un attimo, la passo al proprietario."
- Richiamare: "Devo verificare una cosa. Posso richiamare tra poco?"

## STILE
- Parla lentamente e chiaramente
- Usa frasi semplici
- Conferma sempre le informazioni importanti ripetendole
- Sii educato ma non eccessivamente formale

## BREVITÀ (MOLTO IMPORTANTE)
Rispondi SOLO in italiano. Le tue risposte devono essere MOLTO BREVI:
- Massimo 15-25 parole per risposta
- 1-2 frasi al massimo
- Mai ripetere informazioni già dette
- Mai spiegare troppo

Esempi di risposte corrette:
- "Sì, confermo. Giovedì alle 11."
- "Sì, sono io. Mi dica."

Rispondi SOLO in italiano. Le tue risposte devono essere BREVI e naturali per una conversazione telefonica (1-3 frasi al massimo).
`

func joinOr(items []string, fallback string) string {
	if len(items) == 0 {
		return fallback
	}
	return strings.Join(items, ", ")
}

func orElse(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func firstN(items []string, n int) []string {
	if len(items) <= n {
		return items
	}
	return items[:n]
}

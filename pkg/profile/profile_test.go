package profile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testProfile() *ConversationProfile {
	p := Default()
	p.Identity.Name = "James Smith"
	p.Identity.CodiceFiscale = "SMTJMS80A01H501Z"
	p.Location.Address = Address{
		Via:       "Via Roma",
		Numero:    "12",
		CAP:       "53100",
		Comune:    "Siena",
		Provincia: "SI",
	}
	p.Location.Directions.FromMainRoad = "Dalla strada principale, seconda a destra dopo il bar."
	p.Location.GoogleMapsURL = "https://maps.app.goo.gl/abc123"
	p.Accounts["enel_electricity"] = Account{
		Provider:    "Enel Energia",
		Type:        "electricity",
		Identifiers: map[string]string{"pod": "IT001E12345678", "codice_cliente": "987654"},
		Contact:     map[string]string{"phone": "800 900 860"},
	}
	return p
}

func TestSpellItalian(t *testing.T) {
	assert.Equal(t, "R come Roma, 2, X come Xilofono", SpellItalian("r2x"))
	assert.Equal(t, "", SpellItalian(""))
}

func TestFirstName(t *testing.T) {
	p := testProfile()
	assert.Equal(t, "James", p.FirstName())

	p.Identity.Name = "Madonna"
	assert.Equal(t, "Madonna", p.FirstName())

	p.Identity.Name = ""
	assert.Equal(t, "", p.FirstName())
}

func TestFormattedAddress(t *testing.T) {
	p := testProfile()
	assert.Equal(t, "Via Roma, 12\n53100 Siena (SI)", p.FormattedAddress())

	assert.Equal(t, "", Default().FormattedAddress())
}

func TestBuildSystemPrompt(t *testing.T) {
	prompt := testProfile().BuildSystemPrompt()

	assert.Contains(t, prompt, "James Smith")
	assert.Contains(t, prompt, "Siena")
	assert.Contains(t, prompt, "S come Savona")
	assert.Contains(t, prompt, "Enel Energia")
	assert.Contains(t, prompt, "POD: IT001E12345678")
	assert.Contains(t, prompt, "MAI fare")
	assert.Contains(t, prompt, "Rispondi SOLO in italiano")
}

func TestBuildSystemPromptDefaults(t *testing.T) {
	prompt := Default().BuildSystemPrompt()

	assert.Contains(t, prompt, "il proprietario")
	assert.Contains(t, prompt, "Nessun account configurato.")
	assert.Contains(t, prompt, "Nessuna informazione di verifica.")
}

func TestLocationMessage(t *testing.T) {
	p := testProfile()
	msg := p.LocationMessage()

	assert.Contains(t, msg, "Via Roma, 12")
	assert.Contains(t, msg, "seconda a destra")
	assert.Contains(t, msg, "https://maps.app.goo.gl/abc123")
}

func TestLocationMessageCoordinatesFallback(t *testing.T) {
	p := testProfile()
	p.Location.GoogleMapsURL = ""
	p.Location.Coordinates = Coordinates{Lat: "43.318", Lon: "11.331"}

	assert.Contains(t, p.LocationMessage(), "https://maps.google.com/?q=43.318,11.331")
}

func TestQuickResponse(t *testing.T) {
	reply, ok := QuickResponse("  Grazie! ")
	require.True(t, ok)
	assert.Equal(t, "Prego.", reply)

	reply, ok = QuickResponse("Pronto.")
	require.True(t, ok)
	assert.Equal(t, "Pronto. Sì, sono qui. Mi dica.", reply)

	_, ok = QuickResponse("vorrei parlare del contratto della luce")
	assert.False(t, ok)
}

func TestAccountByIdentifier(t *testing.T) {
	p := testProfile()

	acc, ok := p.AccountByIdentifier("IT001E12345678")
	require.True(t, ok)
	assert.Equal(t, "Enel Energia", acc.Provider)

	_, ok = p.AccountByIdentifier("missing")
	assert.False(t, ok)
}

func TestStoreLoadsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "knowledge.json")
	content := `{
		"identity": {"name": "James Smith"},
		"location": {"address": {"via": "Via Roma", "numero": "12", "cap": "53100", "comune": "Siena", "provincia": "SI"}}
	}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	store, err := NewStore(path, logger)
	require.NoError(t, err)

	p := store.Get()
	assert.Equal(t, "James Smith", p.Identity.Name)
	assert.Equal(t, "Siena", p.Location.Address.Comune)
	// Sections missing from the file still come from defaults
	assert.NotNil(t, p.Accounts)
	assert.Contains(t, p.Identity.OpeningPhrase, "inglese")
}

func TestStoreMissingFileUsesDefaults(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	store, err := NewStore(filepath.Join(t.TempDir(), "missing.json"), logger)
	require.NoError(t, err)
	assert.Equal(t, "", store.Get().Identity.Name)
}

func TestStoreRejectsMalformedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	_, err := NewStore(path, logger)
	assert.Error(t, err)
}

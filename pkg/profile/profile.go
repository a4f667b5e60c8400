package profile

// Package profile holds the owner knowledge base injected into the
// assistant's system prompt: who the owner is, where the house is, which
// utility accounts exist and how to verify them.

// Address is a canonical Italian postal address.
type Address struct {
	Via       string `json:"via"`
	Numero    string `json:"numero"`
	CAP       string `json:"cap"`
	Comune    string `json:"comune"`
	Provincia string `json:"provincia"`
}

// Directions describes how to reach the house from the main road.
type Directions struct {
	FromMainRoad     string   `json:"from_main_road"`
	Landmarks        []string `json:"landmarks"`
	HouseDescription string   `json:"house_description"`
}

// Coordinates are decimal latitude and longitude, kept as strings so the
// profile file round-trips without precision surprises.
type Coordinates struct {
	Lat string `json:"lat"`
	Lon string `json:"lon"`
}

// Identity identifies the owner the assistant answers for.
type Identity struct {
	Name          string `json:"name"`
	CodiceFiscale string `json:"codice_fiscale"`
	OpeningPhrase string `json:"opening_phrase"`
}

// Location holds the address, courier directions and the maps link used
// in location messages.
type Location struct {
	Address         Address     `json:"address"`
	AddressVariants []string    `json:"address_variants"`
	Directions      Directions  `json:"directions"`
	Coordinates     Coordinates `json:"coordinates"`
	GoogleMapsURL   string      `json:"google_maps_url"`
	GateCode        string      `json:"gate_code"`
}

// Account is one utility or service account held by the owner.
type Account struct {
	Provider    string            `json:"provider"`
	Type        string            `json:"type"`
	Identifiers map[string]string `json:"identifiers"`
	Contact     map[string]string `json:"contact"`
}

// House holds delivery fallbacks and meter placement.
type House struct {
	NeighbourName     string            `json:"neighbour_name"`
	NeighbourRelation string            `json:"neighbour_relation"`
	SafePlace         string            `json:"safe_place"`
	MeterLocations    map[string]string `json:"meter_locations"`
}

// Preferences records when the owner can receive technicians.
type Preferences struct {
	AvailableDays    []string `json:"available_days"`
	PreferredTime    string   `json:"preferred_time"`
	UnavailableDates []string `json:"unavailable_dates"`
}

// VerificationEntry is one identity-check question and its answer.
type VerificationEntry struct {
	Provider string `json:"provider"`
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// ConversationProfile is the full knowledge base for one deployment.
type ConversationProfile struct {
	Identity     Identity                     `json:"identity"`
	Location     Location                     `json:"location"`
	Accounts     map[string]Account           `json:"accounts"`
	House        House                        `json:"house"`
	Preferences  Preferences                  `json:"preferences"`
	Verification map[string]VerificationEntry `json:"verification_data"`
}

// Default returns a profile with the structure filled in and the fields
// empty, so a missing or partial profile file still yields a usable prompt.
func Default() *ConversationProfile {
	return &ConversationProfile{
		Identity: Identity{
			OpeningPhrase: "Mi scusi, sono inglese e il mio italiano non è perfetto",
		},
		Accounts:     map[string]Account{},
		House:        House{MeterLocations: map[string]string{}},
		Verification: map[string]VerificationEntry{},
	}
}

// FirstName returns the owner's first name, or empty when unset.
func (p *ConversationProfile) FirstName() string {
	name := p.Identity.Name
	for i := 0; i < len(name); i++ {
		if name[i] == ' ' {
			return name[:i]
		}
	}
	return name
}

// FormattedAddress renders the canonical address in Italian postal form.
func (p *ConversationProfile) FormattedAddress() string {
	addr := p.Location.Address
	out := ""
	if addr.Via != "" {
		out = addr.Via
		if addr.Numero != "" {
			out += ", " + addr.Numero
		}
	}
	if addr.CAP != "" && addr.Comune != "" {
		if out != "" {
			out += "\n"
		}
		out += addr.CAP + " " + addr.Comune
		if addr.Provincia != "" {
			out += " (" + addr.Provincia + ")"
		}
	}
	return out
}

// AccountByIdentifier finds the account holding the given POD, PDR or
// customer code, if any.
func (p *ConversationProfile) AccountByIdentifier(identifier string) (Account, bool) {
	for _, acc := range p.Accounts {
		for _, v := range acc.Identifiers {
			if v == identifier {
				return acc, true
			}
		}
	}
	return Account{}, false
}

package settings

import "time"

// Settings holds one clinic's configuration. It is stored as a single JSONB
// document per tenant schema.
type Settings struct {
	ClinicName                string     `json:"clinic_name"`
	Currency                  string     `json:"currency"`
	TimeZone                  string     `json:"time_zone"`
	PaymentMethods            []string   `json:"payment_methods"`
	DocumentTypes             []string   `json:"document_types"`
	LowStockThreshold         int        `json:"low_stock_threshold"`
	DefaultAppointmentMinutes int        `json:"default_appointment_minutes"`
	UpdatedAt                 *time.Time `json:"updated_at,omitempty"`
}

// KnownDocumentTypes are the identity documents a patient may present.
var KnownDocumentTypes = []string{"DNI", "CE", "PASSPORT", "RUC", "OTHER"}

// DefaultPaymentMethods apply until a clinic configures its own.
var DefaultPaymentMethods = []string{"cash", "card", "transfer", "wallet", "credit_note"}

// Defaults returns the settings used before a clinic saves any.
func Defaults() *Settings {
	return &Settings{
		ClinicName:                "Clinic",
		Currency:                  "PEN",
		TimeZone:                  "America/Lima",
		PaymentMethods:            append([]string(nil), DefaultPaymentMethods...),
		DocumentTypes:             append([]string(nil), KnownDocumentTypes...),
		LowStockThreshold:         5,
		DefaultAppointmentMinutes: 30,
	}
}

// Location loads the clinic's time zone, falling back to UTC.
func (s *Settings) Location() *time.Location {
	if loc, err := time.LoadLocation(s.TimeZone); err == nil {
		return loc
	}
	return time.UTC
}

// AcceptsPaymentMethod reports whether method is configured.
func (s *Settings) AcceptsPaymentMethod(method string) bool {
	for _, m := range s.PaymentMethods {
		if m == method {
			return true
		}
	}
	return false
}

// AcceptsDocumentType reports whether docType is enabled.
func (s *Settings) AcceptsDocumentType(docType string) bool {
	for _, d := range s.DocumentTypes {
		if d == docType {
			return true
		}
	}
	return false
}

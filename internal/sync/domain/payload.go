package domain

import (
	"encoding/json"

	apperrors "github.com/vitalhome/syncengine/internal/errors"
)

// Payloads are typed per entity kind; only the envelope codec and the
// operation router deal in untyped maps. Field tags are already the
// canonical wire casing.

// DeviceStatePayload carries a smart-device state mutation.
type DeviceStatePayload struct {
	DeviceID  string   `json:"device_id"`
	Power     bool     `json:"power"`
	Level     *int     `json:"level,omitempty"`
	Mode      *string  `json:"mode,omitempty"`
	Version   int64    `json:"version"`
	ChangedAt WireTime `json:"changed_at"`
}

// ProfilePayload carries a user-profile edit. Nil fields are untouched;
// Version is the locally-known entity version for the server's write check.
type ProfilePayload struct {
	ProfileID   string   `json:"profile_id"`
	DisplayName *string  `json:"display_name,omitempty"`
	HeightCm    *float64 `json:"height_cm,omitempty"`
	WeightKg    *float64 `json:"weight_kg,omitempty"`
	BirthDate   *string  `json:"birth_date,omitempty"`
	Version     int64    `json:"version"`
}

// ReadingPayload carries an immutable health reading (heart rate sample,
// RR-interval window, SpO2 measurement).
type ReadingPayload struct {
	ReadingID    string   `json:"reading_id"`
	ProfileID    string   `json:"profile_id"`
	Kind         string   `json:"kind"`
	Value        float64  `json:"value"`
	Unit         string   `json:"unit"`
	SourceDevice *string  `json:"source_device,omitempty"`
	RecordedAt   WireTime `json:"recorded_at"`
}

// DecodeDevicePayload parses a raw payload as a device state mutation.
func DecodeDevicePayload(raw json.RawMessage) (*DeviceStatePayload, error) {
	var p DeviceStatePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalidInput, "malformed device payload")
	}
	return &p, nil
}

// DecodeProfilePayload parses a raw payload as a profile edit.
func DecodeProfilePayload(raw json.RawMessage) (*ProfilePayload, error) {
	var p ProfilePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalidInput, "malformed profile payload")
	}
	return &p, nil
}

// DecodeReadingPayload parses a raw payload as a health reading.
func DecodeReadingPayload(raw json.RawMessage) (*ReadingPayload, error) {
	var p ReadingPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalidInput, "malformed reading payload")
	}
	return &p, nil
}

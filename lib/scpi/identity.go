// Package scpi holds helpers for the plain text responses of SCPI
// instruments.
package scpi

import (
	"fmt"
	"strings"
)

// Field positions of an *IDN? response
const (
	FieldManufacturer = iota
	FieldModel
	FieldSerial
	FieldFirmware
)

// Identity is a parsed *IDN? response.
type Identity struct {
	Raw    string   // Response as received
	Fields []string // Comma separated fields, whitespace trimmed
}

// ParseIdentity splits an identification response on commas. Responses with
// fewer than two fields are rejected because the model names the output file.
func ParseIdentity(resp string) (Identity, error) {
	trimmed := strings.TrimSpace(resp)
	if trimmed == "" {
		return Identity{}, fmt.Errorf("empty identification response")
	}

	fields := strings.Split(trimmed, ",")
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}
	if len(fields) <= FieldModel || fields[FieldModel] == "" {
		return Identity{}, fmt.Errorf("identification response %q has no model field", trimmed)
	}
	return Identity{Raw: resp, Fields: fields}, nil
}

func (id Identity) field(i int) string {
	if i < len(id.Fields) {
		return id.Fields[i]
	}
	return ""
}

func (id Identity) Manufacturer() string { return id.field(FieldManufacturer) }
func (id Identity) Model() string        { return id.field(FieldModel) }
func (id Identity) Serial() string       { return id.field(FieldSerial) }
func (id Identity) Firmware() string     { return id.field(FieldFirmware) }

// String returns the raw response without its line terminator.
func (id Identity) String() string {
	return strings.TrimRight(id.Raw, "\r\n")
}

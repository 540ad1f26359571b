package models

import (
	"time"

	"github.com/go-playground/validator/v10"
)

// UserCredentials represents an authorized field agent from the credentials sheet
type UserCredentials struct {
	Identity    string
	DisplayName string
	STO         string
	Permitted   bool

	// Optional organisational columns, shown in the welcome message
	Witel   string
	Telda   string
	Cluster string
}

// UserData is the form record collected during /add
type UserData struct {
	Identity     string `validate:"required"`
	DisplayName  string
	BusinessType string `validate:"required"`
	Address      string `validate:"required"`
	Latitude     *float64
	Longitude    *float64
	MapsLink     string
	Package      string `validate:"required"`
	STO          string `validate:"required"`
	STODetected  bool
	ODPName      string
	PhotoURL     string `validate:"required"`
	SubmittedAt  time.Time
}

// HasCoordinates reports whether both coordinates were captured
func (d *UserData) HasCoordinates() bool {
	return d.Latitude != nil && d.Longitude != nil
}

var validate = validator.New()

// Validate checks that every required field is present before submission
func (d *UserData) Validate() error {
	return validate.Struct(d)
}

// UserRecord is a previously submitted row read back for /record
type UserRecord struct {
	Row int
	UserData
}

// ODPEntry is one row of the ODP sheet
type ODPEntry struct {
	STO       string
	Name      string
	Latitude  float64
	Longitude float64
	Available string

	// HasCoordinates is false when either coordinate cell was empty or unparsable
	HasCoordinates bool
	Row            int
}

// Valid reports whether the entry can take part in distance ranking
func (e ODPEntry) Valid() bool {
	return e.HasCoordinates &&
		e.Latitude >= -90 && e.Latitude <= 90 &&
		e.Longitude >= -180 && e.Longitude <= 180
}

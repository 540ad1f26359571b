package models

import (
	"strconv"
	"strings"
	"time"
)

// Data sheet column indices. Reads and writes both go through this table;
// new columns are only ever appended after ColMapsLink.
const (
	ColTimestamp = iota
	ColIdentity
	ColBusinessType
	ColAddress
	ColLatitude
	ColLongitude
	ColPackage
	ColSTO
	ColPhotoURL
	ColODPName
	ColMapsLink

	DataColumnCount
)

// DataColumnHeaders are the header labels written to row 1 of the data sheet
var DataColumnHeaders = [DataColumnCount]string{
	ColTimestamp:    "Timestamp",
	ColIdentity:     "ID",
	ColBusinessType: "Jenis Usaha",
	ColAddress:      "Alamat",
	ColLatitude:     "Latitude",
	ColLongitude:    "Longitude",
	ColPackage:      "Paket",
	ColSTO:          "STO",
	ColPhotoURL:     "Foto",
	ColODPName:      "ODP",
	ColMapsLink:     "Link Gmaps",
}

// TimestampLayout is the layout used for the timestamp column
const TimestampLayout = "2006-01-02 15:04:05"

// BusinessTypes are the options offered at the business type step
var BusinessTypes = []string{
	"Retail", "Hotel", "Manufaktur", "Cafe", "Tempat Wisata",
	"Rumah Sakit", "Sekolah", "Industri", "Distributor", "Pergudangan",
}

// Packages are the internet package options offered at the package step
var Packages = []string{
	"10Mbps", "20Mbps", "30Mbps", "50Mbps", "75Mbps", "100Mbps", ">100Mbps",
}

// ToRow lays out the record in data sheet column order
func (d *UserData) ToRow() []string {
	row := make([]string, DataColumnCount)
	row[ColTimestamp] = d.SubmittedAt.Format(TimestampLayout)
	row[ColIdentity] = d.Identity
	row[ColBusinessType] = d.BusinessType
	row[ColAddress] = d.Address
	if d.HasCoordinates() {
		row[ColLatitude] = strconv.FormatFloat(*d.Latitude, 'f', 6, 64)
		row[ColLongitude] = strconv.FormatFloat(*d.Longitude, 'f', 6, 64)
	}
	row[ColPackage] = d.Package
	row[ColSTO] = d.STO
	row[ColPhotoURL] = d.PhotoURL
	row[ColODPName] = d.ODPName
	row[ColMapsLink] = d.MapsLink
	return row
}

// RecordFromRow reads a data sheet row back; missing trailing cells are empty.
// rowNum is the 1-based sheet row.
func RecordFromRow(cells []string, rowNum int, loc *time.Location) UserRecord {
	cell := func(i int) string {
		if i < len(cells) {
			return strings.TrimSpace(cells[i])
		}
		return ""
	}

	rec := UserRecord{Row: rowNum}
	if ts, err := time.ParseInLocation(TimestampLayout, cell(ColTimestamp), loc); err == nil {
		rec.SubmittedAt = ts
	}
	rec.Identity = cell(ColIdentity)
	rec.BusinessType = cell(ColBusinessType)
	rec.Address = cell(ColAddress)
	lat, latErr := strconv.ParseFloat(cell(ColLatitude), 64)
	lon, lonErr := strconv.ParseFloat(cell(ColLongitude), 64)
	if latErr == nil && lonErr == nil {
		rec.Latitude, rec.Longitude = &lat, &lon
	}
	rec.Package = cell(ColPackage)
	rec.STO = cell(ColSTO)
	rec.PhotoURL = cell(ColPhotoURL)
	rec.ODPName = cell(ColODPName)
	rec.MapsLink = cell(ColMapsLink)
	return rec
}

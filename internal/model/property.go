package model

import "time"

// Source identifies where an acquisition result came from.
type Source string

const (
	SourceCache Source = "cache"
	SourceAPI   Source = "api"
)

// Property is a normalized cadastral record ("bien inmueble").
type Property struct {
	Identifier       string         `json:"referencia_catastral"`
	Address          string         `json:"direccion"`
	PrimaryUse       string         `json:"uso_principal"`
	BuiltArea        int            `json:"superficie_construida"`
	ConstructionYear int            `json:"ano_construccion"`
	Latitude         *float64       `json:"lat"`
	Longitude        *float64       `json:"lon"`
	Additional       AdditionalData `json:"datos_adicionales"`
}

// HasCoordinates reports whether both latitude and longitude are resolved.
func (p Property) HasCoordinates() bool {
	return p.Latitude != nil && p.Longitude != nil
}

// SetCoordinates merges a resolved coordinate pair into the record.
func (p *Property) SetCoordinates(c Coordinates) {
	lat, lon := c.Latitude, c.Longitude
	p.Latitude = &lat
	p.Longitude = &lon
}

// AdditionalData holds the secondary attributes of a property.
type AdditionalData struct {
	Destination string                `json:"uso_destino"`
	ParcelArea  int                   `json:"superficie_total_parcela"`
	Floors      string                `json:"numero_plantas"`
	Elements    []ConstructionElement `json:"elementos"`
}

// ConstructionElement is one "cons" unit inside a property.
type ConstructionElement struct {
	Door  string `json:"puerta"`
	Floor string `json:"planta"`
	Use   string `json:"uso"`
	Area  int    `json:"superficie"`
}

// Coordinates is a WGS84 (EPSG:4326) point.
type Coordinates struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
}

// Result is the shape returned to callers of the acquisition pipeline.
type Result struct {
	Success bool       `json:"success"`
	Data    []Property `json:"data"`
	Error   string     `json:"error,omitempty"`
	Source  Source     `json:"source,omitempty"`
}

// CacheEntry is the persisted form of a successful acquisition.
type CacheEntry struct {
	Key         string    `json:"referencia_catastral"`
	RawXML      string    `json:"datos_xml"`
	Records     []byte    `json:"datos_json"`
	Latitude    *float64  `json:"lat,omitempty"`
	Longitude   *float64  `json:"lon,omitempty"`
	FirstSeen   time.Time `json:"fecha_consulta"`
	LastUpdated time.Time `json:"fecha_actualizacion"`
}

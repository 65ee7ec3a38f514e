package models

import (
	"time"

	"github.com/google/uuid"
)

type Gender string

const (
	GenderMasculine Gender = "masculine"
	GenderFeminine  Gender = "feminine"
	GenderUnisex    Gender = "unisex"
)

// Perfume is the structured record produced by one successful scrape.
type Perfume struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Brand         string    `json:"brand"`
	Year          int       `json:"year,omitempty"`
	Perfumer      string    `json:"perfumer,omitempty"`
	Gender        Gender    `json:"gender"`
	Concentration string    `json:"concentration,omitempty"`
	Notes         Notes     `json:"notes"`
	Accords       []Accord  `json:"accords"`
	Description   string    `json:"description,omitempty"`
	ImageURL      string    `json:"imageUrl,omitempty"`
	Rating        float64   `json:"rating,omitempty"`
	SourceURL     string    `json:"sourceUrl,omitempty"`
	ScrapedAt     time.Time `json:"scrapedAt,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Notes is the olfactory pyramid: ordered note names per layer.
type Notes struct {
	Top   []string `json:"top"`
	Heart []string `json:"heart"`
	Base  []string `json:"base"`
}

// Accord is a named scent family with a relative strength.
type Accord struct {
	Name       string  `json:"name"`
	Percentage float64 `json:"percentage"`
	Color      string  `json:"color,omitempty"`
}

func NewPerfume(sourceURL string) *Perfume {
	now := time.Now()
	return &Perfume{
		ID:        uuid.New().String(),
		Gender:    GenderUnisex,
		Notes:     Notes{Top: []string{}, Heart: []string{}, Base: []string{}},
		Accords:   []Accord{},
		SourceURL: sourceURL,
		ScrapedAt: now,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// IsEmpty reports whether the pyramid carries no notes at all.
func (n Notes) IsEmpty() bool {
	return len(n.Top) == 0 && len(n.Heart) == 0 && len(n.Base) == 0
}

func (g Gender) Valid() bool {
	switch g {
	case GenderMasculine, GenderFeminine, GenderUnisex:
		return true
	}
	return false
}

// Validate returns the list of problems that make the record unusable.
// A perfume without a name or brand is a failed extraction, not a
// partial record.
func (p *Perfume) Validate() []string {
	var errs []string

	if p.Name == "" {
		errs = append(errs, "name is required")
	}
	if p.Brand == "" {
		errs = append(errs, "brand is required")
	}
	if p.Gender != "" && !p.Gender.Valid() {
		errs = append(errs, "invalid gender")
	}
	if p.Rating < 0 || p.Rating > 5 {
		errs = append(errs, "rating out of range")
	}
	if p.Year != 0 && (p.Year < 1900 || p.Year > time.Now().Year()) {
		errs = append(errs, "implausible year")
	}

	return errs
}

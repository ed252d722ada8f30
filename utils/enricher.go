package utils

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"

	"leadpixel/models"

	"gorm.io/gorm"
)

// EnrichedProfile is the person/company attribute set returned by the
// third-party enrichment API for an IP + user-agent lookup.
type EnrichedProfile struct {
	FirstName string
	LastName  string
	Email     string
	Company   string
	JobTitle  string
	Phone     string
	City      string
	Region    string
	Country   string
	Raw       string // opaque response payload, stored for provenance
}

// EnrichmentClient calls the third-party enrichment API with an owner-scoped
// credential. Lookups carry their own bounded timeout; callers treat every
// failure as best-effort and never propagate it to the ingestion response.
type EnrichmentClient struct {
	DB      *gorm.DB
	BaseURL string
	HTTP    *http.Client
	Logger  *log.Logger
}

func NewEnrichmentClient(db *gorm.DB, baseURL string, timeout time.Duration, logger *log.Logger) *EnrichmentClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &EnrichmentClient{
		DB:      db,
		BaseURL: baseURL,
		HTTP:    &http.Client{Timeout: timeout},
		Logger:  logger,
	}
}

type enrichmentResponse struct {
	Person struct {
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
		Email     string `json:"email"`
		JobTitle  string `json:"job_title"`
		Phone     string `json:"phone"`
	} `json:"person"`
	Company struct {
		Name string `json:"name"`
	} `json:"company"`
	Location struct {
		City    string `json:"city"`
		Region  string `json:"region"`
		Country string `json:"country"`
	} `json:"location"`
}

// Lookup resolves person/company attributes for a visitor's IP and
// user agent using the owner's active enrichment credential.
func (ec *EnrichmentClient) Lookup(ctx context.Context, ownerID uint, ip, userAgent string) (*EnrichedProfile, error) {
	var credential models.APICredential
	if err := ec.DB.Where("owner_id = ? AND provider = ? AND is_active = ?",
		ownerID, "enrichment", true).First(&credential).Error; err != nil {
		return nil, fmt.Errorf("no active enrichment credential for owner %d: %w", ownerID, err)
	}

	endpoint := fmt.Sprintf("%s?ip=%s&user_agent=%s",
		ec.BaseURL, url.QueryEscape(ip), url.QueryEscape(userAgent))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	apiKey, err := Decrypt(credential.APIKey)
	if err != nil {
		return nil, fmt.Errorf("decrypting enrichment credential: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := ec.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("enrichment request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("enrichment API returned status %d", resp.StatusCode)
	}

	var parsed enrichmentResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("unparseable enrichment response: %w", err)
	}

	now := time.Now()
	ec.DB.Model(&models.APICredential{}).Where("id = ?", credential.ID).
		Update("last_used_at", now)

	return &EnrichedProfile{
		FirstName: parsed.Person.FirstName,
		LastName:  parsed.Person.LastName,
		Email:     parsed.Person.Email,
		Company:   parsed.Company.Name,
		JobTitle:  parsed.Person.JobTitle,
		Phone:     parsed.Person.Phone,
		City:      parsed.Location.City,
		Region:    parsed.Location.Region,
		Country:   parsed.Location.Country,
		Raw:       string(body),
	}, nil
}

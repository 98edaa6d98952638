package crm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/openclaw/crm-sync-server/internal/model"
)

var (
	// ErrUnauthorized means the CRM rejected the bearer token. The token may
	// be revoked before the local freshness window ends.
	ErrUnauthorized       = errors.New("crm rejected access token")
	ErrExchangeRejected   = errors.New("crm rejected credential exchange")
	ErrMissingAccessToken = errors.New("crm token response has no access_token")
	ErrMalformedResponse  = errors.New("crm query response has no records")
	ErrUnexpectedStatus   = errors.New("crm returned unexpected status")
)

const maxResponseBytes = 32 << 20

var identifierRegex = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

type Config struct {
	AuthURL       string
	ClientID      string
	ClientSecret  string
	Username      string
	Password      string
	GrantType     string
	APIVersion    string
	Object        string
	SyncFlagField string
}

// Token is the result of a credential exchange.
type Token struct {
	AccessToken string
	InstanceURL string
}

// Record is a contact row as returned by the query endpoint.
type Record struct {
	ID        string `json:"Id"`
	FirstName string `json:"FirstName"`
	LastName  string `json:"LastName"`
	Email     string `json:"Email"`
	Phone     string `json:"Phone"`
}

func (r Record) SyncRecord() model.SyncRecord {
	return model.SyncRecord{
		ExternalID: strings.TrimSpace(r.ID),
		FirstName:  strings.TrimSpace(r.FirstName),
		LastName:   strings.TrimSpace(r.LastName),
		Email:      strings.TrimSpace(r.Email),
		Phone:      strings.TrimSpace(r.Phone),
	}
}

type Client struct {
	cfg        Config
	httpClient *http.Client
	query      string
}

func NewClient(cfg Config, httpClient *http.Client) (*Client, error) {
	if !identifierRegex.MatchString(cfg.Object) {
		return nil, fmt.Errorf("invalid CRM object name %q", cfg.Object)
	}
	if !identifierRegex.MatchString(cfg.SyncFlagField) {
		return nil, fmt.Errorf("invalid CRM sync flag field %q", cfg.SyncFlagField)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	return &Client{
		cfg:        cfg,
		httpClient: httpClient,
		query: fmt.Sprintf(
			"SELECT Id, FirstName, LastName, Email, Phone FROM %s WHERE %s = true",
			cfg.Object, cfg.SyncFlagField,
		),
	}, nil
}

// Query returns the filter sent to the CRM. Only flagged records match.
func (c *Client) Query() string {
	return c.query
}

// Exchange performs the OAuth token request using the configured grant.
func (c *Client) Exchange(ctx context.Context) (*Token, error) {
	data := url.Values{
		"grant_type":    {c.cfg.GrantType},
		"client_id":     {c.cfg.ClientID},
		"client_secret": {c.cfg.ClientSecret},
	}
	if c.cfg.GrantType == "password" {
		data.Set("username", c.cfg.Username)
		data.Set("password", c.cfg.Password)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.AuthURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read token response: %w", err)
	}

	var tokenResp struct {
		AccessToken      string `json:"access_token"`
		InstanceURL      string `json:"instance_url"`
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
	if resp.StatusCode != http.StatusOK {
		_ = json.Unmarshal(body, &tokenResp)
		log.Error().
			Int("status", resp.StatusCode).
			Str("error", tokenResp.Error).
			Str("description", tokenResp.ErrorDescription).
			Msg("crm token exchange failed")
		return nil, fmt.Errorf("%w: status %d %s", ErrExchangeRejected, resp.StatusCode, tokenResp.Error)
	}
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return nil, fmt.Errorf("decode token response: %w", err)
	}
	if tokenResp.AccessToken == "" {
		return nil, ErrMissingAccessToken
	}
	if tokenResp.InstanceURL == "" {
		return nil, fmt.Errorf("%w: missing instance_url", ErrMissingAccessToken)
	}

	return &Token{
		AccessToken: tokenResp.AccessToken,
		InstanceURL: strings.TrimRight(tokenResp.InstanceURL, "/"),
	}, nil
}

type queryResponse struct {
	TotalSize      int       `json:"totalSize"`
	Done           bool      `json:"done"`
	NextRecordsURL string    `json:"nextRecordsUrl"`
	Records        *[]Record `json:"records"`
}

// FetchEligible runs the sync query and follows pagination until done.
func (c *Client) FetchEligible(ctx context.Context, cred model.ExternalCredential) ([]model.SyncRecord, error) {
	base := strings.TrimRight(cred.InstanceURL, "/")
	next := fmt.Sprintf("%s/services/data/%s/query?q=%s", base, c.cfg.APIVersion, url.QueryEscape(c.query))

	var records []model.SyncRecord
	for page := 1; next != ""; page++ {
		resp, err := c.getPage(ctx, next, cred.AccessToken)
		if err != nil {
			return nil, err
		}
		for _, r := range *resp.Records {
			records = append(records, r.SyncRecord())
		}

		log.Debug().
			Int("page", page).
			Int("records", len(*resp.Records)).
			Int("totalSize", resp.TotalSize).
			Msg("crm query page fetched")

		next = ""
		if !resp.Done && resp.NextRecordsURL != "" {
			next = base + resp.NextRecordsURL
		}
	}

	return records, nil
}

func (c *Client) getPage(ctx context.Context, pageURL, accessToken string) (*queryResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create query request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("query request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, ErrUnauthorized
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read query response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		log.Error().Int("status", resp.StatusCode).Msg("crm query failed")
		return nil, fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}

	var qr queryResponse
	if err := json.Unmarshal(body, &qr); err != nil {
		return nil, fmt.Errorf("decode query response: %w", err)
	}
	if qr.Records == nil {
		return nil, ErrMalformedResponse
	}
	return &qr, nil
}

package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/3leaps/spotledger/pkg/ledger"
)

// AzureConfig configures the Cost Management collaborator. Authentication is
// the client-credentials flow against the tenant's token endpoint.
type AzureConfig struct {
	SubscriptionID string
	TenantID       string
	ClientID       string
	ClientSecret   string
}

// AzureQuery retrieves spot VM cost through the Cost Management query API.
type AzureQuery struct {
	cfg    AzureConfig
	http   *http.Client
	log    *zap.Logger
	invoke func(ctx context.Context, vmName string, start, end time.Time) (*azureQueryResponse, error)

	token        string
	tokenExpires time.Time
}

const (
	azureManagementHost = "https://management.azure.com"
	azureLoginHost      = "https://login.microsoftonline.com"
	azureAPIVersion     = "2023-03-01"
)

// NewAzureQuery builds a Cost Management backed Query.
func NewAzureQuery(cfg AzureConfig, log *zap.Logger) (*AzureQuery, error) {
	if cfg.SubscriptionID == "" {
		return nil, errors.New("azure subscription id is required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	q := &AzureQuery{
		cfg:  cfg,
		http: &http.Client{Timeout: 30 * time.Second},
		log:  log,
	}
	q.invoke = q.queryUsage
	return q, nil
}

// ActualCost sums daily cost rows for the VM over the request window. A
// response with no rows, or only zero-cost rows, yields (nil, nil).
func (q *AzureQuery) ActualCost(ctx context.Context, req Request) (*Cost, error) {
	vmName := req.extra("vm_name")
	if vmName == "" {
		vmName = req.InstanceID
	}
	if vmName == "" {
		return nil, errors.New("vm name is required for Azure cost query")
	}

	resp, err := q.invoke(ctx, vmName, req.WindowStart, req.WindowEnd)
	if err != nil {
		return nil, fmt.Errorf("azure cost query for %s: %w", req.JobID, err)
	}

	var (
		total     float64
		breakdown []ledger.CostEntry
	)
	for _, row := range resp.Properties.Rows {
		if len(row) < 1 {
			continue
		}
		amount, ok := row[0].(float64)
		if !ok || amount <= 0 {
			continue
		}
		total += amount

		raw, _ := json.Marshal(map[string]any{"row": row})
		breakdown = append(breakdown, ledger.CostEntry{
			JobID:              req.JobID,
			Provider:           ledger.ProviderAzure,
			CostType:           "spot_compute",
			Amount:             amount,
			Currency:           "USD",
			BillingPeriodStart: req.WindowStart.Format(time.RFC3339),
			BillingPeriodEnd:   req.WindowEnd.Format(time.RFC3339),
			RawData:            raw,
		})
	}

	if total <= 0 {
		q.log.Warn("no cost data found for Azure VM",
			zap.String("job_id", req.JobID),
			zap.String("vm_name", vmName))
		return nil, nil
	}

	q.log.Info("retrieved Azure cost",
		zap.String("job_id", req.JobID),
		zap.Float64("total", total))
	return &Cost{Total: total, Currency: "USD", Breakdown: breakdown}, nil
}

type azureQueryResponse struct {
	Properties struct {
		Columns []struct {
			Name string `json:"name"`
			Type string `json:"type"`
		} `json:"columns"`
		Rows [][]any `json:"rows"`
	} `json:"properties"`
}

func (q *AzureQuery) queryUsage(ctx context.Context, vmName string, start, end time.Time) (*azureQueryResponse, error) {
	token, err := q.bearerToken(ctx)
	if err != nil {
		return nil, err
	}

	body := map[string]any{
		"type":      "Usage",
		"timeframe": "Custom",
		"timePeriod": map[string]string{
			"from": start.UTC().Format("2006-01-02T15:04:05.000Z"),
			"to":   end.UTC().Format("2006-01-02T15:04:05.000Z"),
		},
		"dataset": map[string]any{
			"granularity": "Daily",
			"aggregation": map[string]any{
				"totalCost": map[string]string{"name": "Cost", "function": "Sum"},
			},
			"grouping": []map[string]string{
				{"type": "Dimension", "name": "ResourceId"},
			},
			"filter": map[string]any{
				"dimensions": map[string]any{
					"name":     "ResourceId",
					"operator": "Contains",
					"values":   []string{vmName},
				},
			},
		},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal query: %w", err)
	}

	endpoint := fmt.Sprintf("%s/subscriptions/%s/providers/Microsoft.CostManagement/query?api-version=%s",
		azureManagementHost, q.cfg.SubscriptionID, azureAPIVersion)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := q.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("cost management request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	b, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("cost management status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	var parsed azureQueryResponse
	if err := json.Unmarshal(b, &parsed); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	return &parsed, nil
}

// bearerToken fetches (and caches until expiry) a management-scope access
// token via the client-credentials grant.
func (q *AzureQuery) bearerToken(ctx context.Context) (string, error) {
	if q.token != "" && time.Now().Before(q.tokenExpires.Add(-1*time.Minute)) {
		return q.token, nil
	}
	if q.cfg.TenantID == "" || q.cfg.ClientID == "" || q.cfg.ClientSecret == "" {
		return "", errors.New("azure tenant/client credentials are required")
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", q.cfg.ClientID)
	form.Set("client_secret", q.cfg.ClientSecret)
	form.Set("scope", azureManagementHost+"/.default")

	endpoint := fmt.Sprintf("%s/%s/oauth2/v2.0/token", azureLoginHost, q.cfg.TenantID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := q.http.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("token request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	b, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token status %d", resp.StatusCode)
	}

	var parsed struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(b, &parsed); err != nil {
		return "", fmt.Errorf("parse token response: %w", err)
	}
	if parsed.AccessToken == "" {
		return "", errors.New("token response missing access_token")
	}

	q.token = parsed.AccessToken
	q.tokenExpires = time.Now().Add(time.Duration(parsed.ExpiresIn) * time.Second)
	return q.token, nil
}

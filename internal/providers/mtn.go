package providers

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"momo-gateway/internal/config"
	"momo-gateway/internal/logger"
	"momo-gateway/internal/models"
	"momo-gateway/internal/tokencache"
	"momo-gateway/internal/transport"
)

// MTN is the MTN Mobile Money collections adapter.
type MTN struct {
	cfg    config.MTNConfig
	client *transport.Client
	tokens *tokencache.Cache
	log    *logger.Logger
}

func NewMTN(cfg config.MTNConfig, client *transport.Client, tokens *tokencache.Cache, log *logger.Logger) *MTN {
	return &MTN{cfg: cfg, client: client, tokens: tokens, log: log}
}

func (m *MTN) Name() string { return models.ProviderMTN }

func (m *MTN) MinimumAmount() int64 { return minimumAmount }

func (m *MTN) tokenKey() string {
	return "mtn_momo_token_" + m.cfg.APIUser
}

func (m *MTN) basicAuth() string {
	raw := m.cfg.APIUser + ":" + m.cfg.APIKey
	return base64.StdEncoding.EncodeToString([]byte(raw))
}

func (m *MTN) headers(token string, extra map[string]string) map[string]string {
	h := map[string]string{
		"Ocp-Apim-Subscription-Key": m.cfg.SubscriptionKey,
		"X-Target-Environment":      m.cfg.TargetEnvironment,
	}
	if token != "" {
		h["Authorization"] = "Bearer " + token
	}
	for k, v := range extra {
		h[k] = v
	}
	return h
}

// GetAccessToken returns a cached, non-expired token, fetching a fresh
// one through the single-flight cache on miss.
func (m *MTN) GetAccessToken(ctx context.Context, forceRefresh bool) (string, error) {
	if forceRefresh {
		if err := m.tokens.Invalidate(ctx, m.tokenKey()); err != nil {
			return "", fmt.Errorf("failed to invalidate cached token: %w", err)
		}
	}
	return m.tokens.GetOrFetch(ctx, m.tokenKey(), tokenCacheTTL, m.fetchToken)
}

func (m *MTN) fetchToken(ctx context.Context) (string, error) {
	url := m.cfg.BaseURL + "/collection/token/"
	headers := m.headers("", map[string]string{
		"Authorization": "Basic " + m.basicAuth(),
	})

	m.log.LogPayment("TOKEN", m.Name(), "Requesting new MTN MoMo access token")
	resp, err := m.client.Execute(ctx, http.MethodPost, url, headers, nil)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", apiError("failed to get MTN token", resp)
	}

	var body struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := resp.JSON(&body); err != nil || body.AccessToken == "" {
		return "", apiError("MTN token response missing access_token", resp)
	}

	m.log.LogPayment("TOKEN", m.Name(), "MTN MoMo token obtained and cached")
	return body.AccessToken, nil
}

// RequestToPay submits the payment prompt. MTN acknowledges with a 202
// and the X-Reference-Id UUID becomes the provider reference.
func (m *MTN) RequestToPay(ctx context.Context, req PayRequest) (string, error) {
	token, err := m.GetAccessToken(ctx, false)
	if err != nil {
		return "", err
	}

	referenceID := uuid.NewString()
	url := m.cfg.BaseURL + "/collection/v1_0/requesttopay"

	extra := map[string]string{
		"X-Reference-Id":    referenceID,
		"X-Idempotency-Key": req.IdempotencyKey,
	}
	if m.cfg.CallbackURL != "" {
		extra["X-Callback-Url"] = m.cfg.CallbackURL
	}

	payerMessage := req.PayerMessage
	if payerMessage == "" {
		payerMessage = "Payment"
	}

	body := map[string]interface{}{
		"amount":     fmt.Sprintf("%d", req.Amount),
		"currency":   req.Currency,
		"externalId": req.ExternalID,
		"payer": map[string]string{
			"partyIdType": "MSISDN",
			"partyId":     req.Phone,
		},
		"payerMessage": payerMessage,
		"payeeNote":    "Thank you",
	}

	m.log.LogPayment("REQUEST_TO_PAY", referenceID,
		fmt.Sprintf("Requesting payment of %d %s from %s", req.Amount, req.Currency, req.Phone))

	resp, err := m.client.Execute(ctx, http.MethodPost, url, m.headers(token, extra), body)
	if err != nil {
		return "", err
	}

	switch resp.StatusCode {
	case http.StatusAccepted, http.StatusOK, http.StatusCreated:
		m.log.LogPayment("INITIATED", referenceID, "MTN MoMo payment initiated")
		return referenceID, nil
	default:
		m.log.Error("PAYMENT", fmt.Sprintf("MTN request-to-pay failed: HTTP %d", resp.StatusCode))
		return "", apiError("MTN request-to-pay failed", resp)
	}
}

// CheckStatus queries the current provider-side status for a reference.
func (m *MTN) CheckStatus(ctx context.Context, referenceID string) (models.TransactionStatus, error) {
	token, err := m.GetAccessToken(ctx, false)
	if err != nil {
		return models.StatusPending, err
	}

	url := m.cfg.BaseURL + "/collection/v1_0/requesttopay/" + referenceID

	resp, err := m.client.Execute(ctx, http.MethodGet, url, m.headers(token, nil), nil)
	if err != nil {
		return models.StatusPending, err
	}
	if resp.StatusCode != http.StatusOK {
		return models.StatusPending, apiError("MTN status query failed", resp)
	}

	var body struct {
		Status string `json:"status"`
		Reason string `json:"reason"`
	}
	if err := resp.JSON(&body); err != nil {
		return models.StatusPending, apiError("MTN status response not parseable", resp)
	}

	return ParseMTNStatus(body.Status), nil
}

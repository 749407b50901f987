package providers

import (
	"context"
	"fmt"
	"net/http"

	"momo-gateway/internal/config"
	"momo-gateway/internal/logger"
	"momo-gateway/internal/models"
	"momo-gateway/internal/tokencache"
	"momo-gateway/internal/transport"
)

// Airtel is the Airtel Money merchant collections adapter.
type Airtel struct {
	cfg    config.AirtelConfig
	client *transport.Client
	tokens *tokencache.Cache
	log    *logger.Logger
}

func NewAirtel(cfg config.AirtelConfig, client *transport.Client, tokens *tokencache.Cache, log *logger.Logger) *Airtel {
	return &Airtel{cfg: cfg, client: client, tokens: tokens, log: log}
}

func (a *Airtel) Name() string { return models.ProviderAirtel }

func (a *Airtel) MinimumAmount() int64 { return minimumAmount }

func (a *Airtel) tokenKey() string {
	return "airtel_money_token_" + a.cfg.ClientID
}

func (a *Airtel) headers(token string, extra map[string]string) map[string]string {
	h := map[string]string{}
	if token != "" {
		h["Authorization"] = "Bearer " + token
	}
	for k, v := range extra {
		h[k] = v
	}
	return h
}

// GetAccessToken runs the client-credentials grant through the
// single-flight token cache.
func (a *Airtel) GetAccessToken(ctx context.Context, forceRefresh bool) (string, error) {
	if forceRefresh {
		if err := a.tokens.Invalidate(ctx, a.tokenKey()); err != nil {
			return "", fmt.Errorf("failed to invalidate cached token: %w", err)
		}
	}
	return a.tokens.GetOrFetch(ctx, a.tokenKey(), tokenCacheTTL, a.fetchToken)
}

func (a *Airtel) fetchToken(ctx context.Context) (string, error) {
	url := a.cfg.BaseURL + "/auth/oauth2/token"
	body := map[string]string{
		"client_id":     a.cfg.ClientID,
		"client_secret": a.cfg.ClientSecret,
		"grant_type":    "client_credentials",
	}

	a.log.LogPayment("TOKEN", a.Name(), "Requesting new Airtel Money access token")
	resp, err := a.client.Execute(ctx, http.MethodPost, url, nil, body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", apiError("failed to get Airtel token", resp)
	}

	var payload struct {
		AccessToken string `json:"access_token"`
	}
	if err := resp.JSON(&payload); err != nil || payload.AccessToken == "" {
		return "", apiError("Airtel token response missing access_token", resp)
	}

	a.log.LogPayment("TOKEN", a.Name(), "Airtel Money token obtained and cached")
	return payload.AccessToken, nil
}

// RequestToPay initiates the collection. Airtel lets the merchant choose
// the transaction id, so the gateway reference is reused and later
// status queries run against it.
func (a *Airtel) RequestToPay(ctx context.Context, req PayRequest) (string, error) {
	token, err := a.GetAccessToken(ctx, false)
	if err != nil {
		return "", err
	}

	url := a.cfg.BaseURL + "/merchant/v1/payments/"

	narrative := req.PayerMessage
	if narrative == "" {
		narrative = "Payment"
	}

	body := map[string]interface{}{
		"reference": req.ExternalID,
		"subscriber": map[string]string{
			"country":  a.cfg.Country,
			"currency": req.Currency,
			"msisdn":   req.Phone,
		},
		"transaction": map[string]interface{}{
			"amount":   fmt.Sprintf("%d", req.Amount),
			"country":  a.cfg.Country,
			"currency": req.Currency,
			"id":       req.Reference,
		},
		"narrative": narrative,
	}
	if a.cfg.CallbackURL != "" {
		body["callback_url"] = a.cfg.CallbackURL
	}

	extra := map[string]string{"X-Idempotency-Key": req.IdempotencyKey}

	a.log.LogPayment("REQUEST_TO_PAY", req.Reference,
		fmt.Sprintf("Initiating payment of %d %s from %s", req.Amount, req.Currency, req.Phone))

	resp, err := a.client.Execute(ctx, http.MethodPost, url, a.headers(token, extra), body)
	if err != nil {
		return "", err
	}

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusAccepted:
		a.log.LogPayment("INITIATED", req.Reference, "Airtel Money payment initiated")
		return req.Reference, nil
	default:
		a.log.Error("PAYMENT", fmt.Sprintf("Airtel initiate payment failed: HTTP %d", resp.StatusCode))
		return "", apiError("Airtel initiate payment failed", resp)
	}
}

// CheckStatus queries the transaction and maps Airtel's TS/TF/TA/TIP
// codes onto the normalized enum.
func (a *Airtel) CheckStatus(ctx context.Context, referenceID string) (models.TransactionStatus, error) {
	token, err := a.GetAccessToken(ctx, false)
	if err != nil {
		return models.StatusPending, err
	}

	url := a.cfg.BaseURL + "/merchant/v1/payments/" + referenceID

	resp, err := a.client.Execute(ctx, http.MethodGet, url, a.headers(token, nil), nil)
	if err != nil {
		return models.StatusPending, err
	}
	if resp.StatusCode != http.StatusOK {
		return models.StatusPending, apiError("Airtel status query failed", resp)
	}

	var payload struct {
		Status struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"status"`
	}
	if err := resp.JSON(&payload); err != nil {
		return models.StatusPending, apiError("Airtel status response not parseable", resp)
	}

	return ParseAirtelStatus(payload.Status.Code), nil
}

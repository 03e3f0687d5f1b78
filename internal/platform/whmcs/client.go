package whmcs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	cfgpkg "github.com/rapidahost/billinghub/pkg/config"
	"github.com/rapidahost/billinghub/pkg/logctx"
)

const defaultTimeout = 15 * time.Second

// APIError is a failed WHMCS call. Transient errors (network failures,
// timeouts, 5xx) are eligible for the retry queue; the rest are validation
// failures that must not be retried.
type APIError struct {
	Action    string
	Message   string
	Transient bool
}

func (e *APIError) Error() string {
	return fmt.Sprintf("whmcs %s: %s", e.Action, e.Message)
}

// IsTransient reports whether err is a retryable WHMCS failure.
func IsTransient(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Transient
	}
	return false
}

// Client talks to the WHMCS admin API: a form-encoded RPC endpoint where
// every call posts action/identifier/secret plus call-specific params and
// reads a JSON body with result=success|error.
type Client struct {
	apiURL     string
	identifier string
	secret     string
	httpc      *http.Client
	log        *zap.SugaredLogger
}

func NewClient(cfg *cfgpkg.Config, log *zap.SugaredLogger) *Client {
	return &Client{
		apiURL:     cfg.WHMCS.APIURL,
		identifier: cfg.WHMCS.Identifier,
		secret:     cfg.WHMCS.Secret,
		httpc:      &http.Client{Timeout: defaultTimeout},
		log:        log,
	}
}

type AddClientRequest struct {
	FirstName string
	LastName  string
	Email     string
	Password  string
	Country   string
	Currency  int
}

type AddOrderRequest struct {
	ClientID      int
	ProductID     int
	PaymentMethod string
	BillingCycle  string
	Promocode     string
	Notes         string
}

type AddOrderResult struct {
	OrderID   int
	InvoiceID int
	ServiceID int
}

// GetClientByEmail looks up an existing client id by email. Returns 0 with a
// nil error when no client exists.
func (c *Client) GetClientByEmail(ctx context.Context, email string) (int, error) {
	params := url.Values{}
	params.Set("email", email)
	params.Set("stats", "false")

	body, err := c.call(ctx, "GetClientsDetails", params)
	if err != nil {
		var apiErr *APIError
		// WHMCS answers result=error for unknown emails; that is "not found",
		// not a failure.
		if errors.As(err, &apiErr) && !apiErr.Transient {
			return 0, nil
		}
		return 0, err
	}

	var res struct {
		Result string  `json:"result"`
		UserID flexInt `json:"userid"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return 0, &APIError{Action: "GetClientsDetails", Message: "malformed response: " + err.Error(), Transient: true}
	}
	return int(res.UserID), nil
}

// AddClient creates a new client and returns its id.
func (c *Client) AddClient(ctx context.Context, req *AddClientRequest) (int, error) {
	params := url.Values{}
	params.Set("firstname", req.FirstName)
	params.Set("lastname", req.LastName)
	params.Set("email", req.Email)
	params.Set("password2", req.Password)
	params.Set("country", req.Country)
	params.Set("currency", strconv.Itoa(req.Currency))

	body, err := c.call(ctx, "AddClient", params)
	if err != nil {
		return 0, err
	}

	var res struct {
		Result   string  `json:"result"`
		ClientID flexInt `json:"clientid"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return 0, &APIError{Action: "AddClient", Message: "malformed response: " + err.Error(), Transient: true}
	}
	if res.ClientID == 0 {
		return 0, &APIError{Action: "AddClient", Message: "no clientid in response"}
	}
	return int(res.ClientID), nil
}

// AddOrder creates an order for the client, which provisions the service and
// issues the invoice in one call.
func (c *Client) AddOrder(ctx context.Context, req *AddOrderRequest) (*AddOrderResult, error) {
	params := url.Values{}
	params.Set("clientid", strconv.Itoa(req.ClientID))
	params.Set("pid", strconv.Itoa(req.ProductID))
	params.Set("paymentmethod", strings.ToLower(req.PaymentMethod))
	params.Set("billingcycle", req.BillingCycle)
	params.Set("noemail", "true")
	if req.Notes != "" {
		params.Set("notes", req.Notes)
	}
	if req.Promocode != "" {
		params.Set("promocode", req.Promocode)
	}

	body, err := c.call(ctx, "AddOrder", params)
	if err != nil {
		return nil, err
	}

	var res struct {
		Result     string          `json:"result"`
		OrderID    flexInt         `json:"orderid"`
		InvoiceID  flexInt         `json:"invoiceid"`
		ProductIDs json.RawMessage `json:"productids"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, &APIError{Action: "AddOrder", Message: "malformed response: " + err.Error(), Transient: true}
	}

	serviceID := firstProductID(res.ProductIDs)
	if res.InvoiceID == 0 || serviceID == 0 {
		return nil, &APIError{Action: "AddOrder", Message: "invoice or service not created"}
	}
	return &AddOrderResult{OrderID: int(res.OrderID), InvoiceID: int(res.InvoiceID), ServiceID: serviceID}, nil
}

func (c *Client) call(ctx context.Context, action string, params url.Values) ([]byte, error) {
	params.Set("action", action)
	params.Set("identifier", c.identifier)
	params.Set("secret", c.secret)
	params.Set("responsetype", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, strings.NewReader(params.Encode()))
	if err != nil {
		return nil, &APIError{Action: action, Message: err.Error(), Transient: true}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	start := time.Now()
	resp, err := c.httpc.Do(req)
	if err != nil {
		logctx.FromCtx(ctx, c.log).Warnw("whmcs_call_failed", "action", action, "err", err)
		return nil, &APIError{Action: action, Message: err.Error(), Transient: true}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &APIError{Action: action, Message: err.Error(), Transient: true}
	}
	logctx.FromCtx(ctx, c.log).Infow("whmcs_call", "action", action, "status", resp.StatusCode, "elapsed_ms", time.Since(start).Milliseconds())

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, &APIError{Action: action, Message: fmt.Sprintf("http %d", resp.StatusCode), Transient: true}
	}

	var probe struct {
		Result  string `json:"result"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return nil, &APIError{Action: action, Message: "malformed response: " + err.Error(), Transient: true}
	}
	if probe.Result != "success" {
		msg := probe.Message
		if msg == "" {
			msg = "unknown error"
		}
		return nil, &APIError{Action: action, Message: msg}
	}
	return body, nil
}

var Module = fx.Options(
	fx.Provide(NewClient),
)

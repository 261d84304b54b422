// Package backend is the REST client for the storefront backend.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/utafrali/storefront/internal/domain"
	apperrors "github.com/utafrali/storefront/pkg/errors"
	"github.com/utafrali/storefront/pkg/httpclient"
	"github.com/utafrali/storefront/pkg/logger"
	"github.com/utafrali/storefront/pkg/tracing"
)

const serviceName = "backend"

// correlationHeader matches the header the edge accepts and echoes.
const correlationHeader = "X-Correlation-ID"

// Client calls the backend endpoints. Retries and the circuit breaker live in
// the Doer it is built on.
type Client struct {
	baseURL string
	http    httpclient.Doer
	logger  *slog.Logger
	tracer  trace.Tracer
}

// New creates a backend client rooted at baseURL.
func New(baseURL string, doer httpclient.Doer, logger *slog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    doer,
		logger:  logger,
		tracer:  tracing.Tracer("github.com/utafrali/storefront/backend"),
	}
}

// Login exchanges credentials for a token pair. The form is posted once.
func (c *Client) Login(ctx context.Context, username, password string) (domain.TokenPair, error) {
	form := url.Values{}
	form.Set("username", username)
	form.Set("password", password)

	var pair domain.TokenPair
	err := c.call(ctx, request{
		op:          "login",
		method:      http.MethodPost,
		path:        "/login",
		body:        []byte(form.Encode()),
		contentType: "application/x-www-form-urlencoded",
	}, &pair)
	if err != nil {
		return domain.TokenPair{}, err
	}
	if pair.AccessToken == "" {
		return domain.TokenPair{}, apperrors.Unavailable("backend is unavailable",
			errors.New("login response carried no access token"))
	}
	return pair, nil
}

// RefreshToken trades a refresh token for a new access token.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (string, error) {
	body, err := json.Marshal(map[string]string{"refresh_token": refreshToken})
	if err != nil {
		return "", fmt.Errorf("marshal refresh request: %w", err)
	}

	var resp struct {
		AccessToken string `json:"access_token"`
	}
	if err := c.call(ctx, request{
		op:          "refresh_token",
		method:      http.MethodPost,
		path:        "/token/refresh",
		body:        body,
		contentType: "application/json",
	}, &resp); err != nil {
		return "", err
	}
	return resp.AccessToken, nil
}

// Me fetches the profile of the token's owner.
func (c *Client) Me(ctx context.Context, accessToken string) (domain.User, error) {
	var user domain.User
	err := c.call(ctx, request{op: "me", method: http.MethodGet, path: "/me", token: accessToken}, &user)
	return user, err
}

// ListProducts returns the catalog.
func (c *Client) ListProducts(ctx context.Context) ([]domain.Product, error) {
	var products []domain.Product
	if err := c.call(ctx, request{op: "list_products", method: http.MethodGet, path: "/store/cards"}, &products); err != nil {
		return nil, err
	}
	return products, nil
}

// GetProduct returns one catalog card.
func (c *Client) GetProduct(ctx context.Context, id int64) (domain.Product, error) {
	var p domain.Product
	err := c.call(ctx, request{
		op:     "get_product",
		method: http.MethodGet,
		path:   "/store/card/" + strconv.FormatInt(id, 10),
	}, &p)
	return p, err
}

// CreateProduct posts a new listing as multipart form data.
func (c *Client) CreateProduct(ctx context.Context, token string, in domain.ListingInput) (domain.Product, error) {
	body, contentType, err := listingForm(in)
	if err != nil {
		return domain.Product{}, err
	}
	var p domain.Product
	err = c.call(ctx, request{
		op:          "create_product",
		method:      http.MethodPost,
		path:        "/store/card/",
		body:        body,
		contentType: contentType,
		token:       token,
	}, &p)
	return p, err
}

// UpdateProduct replaces a listing. The image is only sent when one is given.
func (c *Client) UpdateProduct(ctx context.Context, token string, id int64, in domain.ListingInput) (domain.Product, error) {
	body, contentType, err := listingForm(in)
	if err != nil {
		return domain.Product{}, err
	}
	var p domain.Product
	err = c.call(ctx, request{
		op:          "update_product",
		method:      http.MethodPut,
		path:        "/cards/" + strconv.FormatInt(id, 10),
		body:        body,
		contentType: contentType,
		token:       token,
	}, &p)
	return p, err
}

// DeleteProduct removes a listing.
func (c *Client) DeleteProduct(ctx context.Context, token string, id int64) error {
	return c.call(ctx, request{
		op:     "delete_product",
		method: http.MethodDelete,
		path:   "/cards/" + strconv.FormatInt(id, 10),
		token:  token,
	}, nil)
}

// Register creates an account. It is posted once.
func (c *Client) Register(ctx context.Context, reg domain.Registration) (domain.User, error) {
	body, err := json.Marshal(reg)
	if err != nil {
		return domain.User{}, fmt.Errorf("marshal registration: %w", err)
	}
	var user domain.User
	err = c.call(ctx, request{
		op:          "register",
		method:      http.MethodPost,
		path:        "/users/",
		body:        body,
		contentType: "application/json",
	}, &user)
	return user, err
}

// Ping reports whether the backend answers at all. Any non-5xx answer counts.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/store/cards", http.NoBody)
	if err != nil {
		return fmt.Errorf("create ping request: %w", err)
	}
	resp, err := c.http.Do(ctx, req)
	if err != nil {
		return fmt.Errorf("ping backend: %w", err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	return nil
}

type request struct {
	op          string
	method      string
	path        string
	body        []byte
	contentType string
	token       string
}

// call sends req and decodes a 2xx JSON answer into out (when non-nil).
// Every other outcome becomes an AppError.
func (c *Client) call(ctx context.Context, req request, out any) (err error) {
	ctx, span := c.tracer.Start(ctx, "backend."+req.op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			semconv.HTTPMethod(req.method),
			attribute.String("url.path", req.path),
		),
	)
	defer func() { tracing.End(span, err) }()

	var body io.Reader = http.NoBody
	if req.body != nil {
		body = bytes.NewReader(req.body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.method, c.baseURL+req.path, body)
	if err != nil {
		return apperrors.Wrap(err, "create "+req.op+" request")
	}
	httpReq.Header.Set("Accept", "application/json")
	if req.contentType != "" {
		httpReq.Header.Set("Content-Type", req.contentType)
	}
	if req.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.token)
	}
	if id := logger.CorrelationIDFromContext(ctx); id != "" {
		httpReq.Header.Set(correlationHeader, id)
	}
	tracing.Inject(ctx, httpReq.Header)

	resp, err := c.http.Do(ctx, httpReq)
	if err != nil {
		return c.transportError(ctx, req.op, err)
	}
	defer func() { _ = resp.Body.Close() }()
	span.SetAttributes(semconv.HTTPStatusCode(resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := httpclient.ParseResponseError(resp, serviceName)
		level := slog.LevelWarn
		if httpclient.IsClientError(resp.StatusCode) {
			level = slog.LevelDebug
		}
		logger.WithContext(ctx, c.logger).Log(ctx, level, "backend answered with an error",
			slog.String("op", req.op),
			slog.Int("status", resp.StatusCode),
			slog.String("code", apperrors.CodeOf(err)),
		)
		return err
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperrors.Unavailable("backend is unavailable", fmt.Errorf("decode %s response: %w", req.op, err))
	}
	return nil
}

func (c *Client) transportError(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return apperrors.Wrap(ctxErr, op)
	}

	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	logger.WithContext(ctx, c.logger).WarnContext(ctx, "backend call failed",
		slog.String("op", op),
		slog.String("error", err.Error()),
	)
	if errors.Is(err, httpclient.ErrCircuitOpen) {
		return apperrors.Unavailable("backend is temporarily unavailable, please retry later", err)
	}
	return apperrors.Unavailable("backend is unavailable", err)
}

// listingForm encodes the listing form fields and the optional image.
func listingForm(in domain.ListingInput) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	fields := [][2]string{
		{"name", in.Name},
		{"description", in.Description},
		{"price", in.Price.String()},
		{"quantity", strconv.Itoa(in.Quantity)},
	}
	for _, f := range fields {
		if err := w.WriteField(f[0], f[1]); err != nil {
			return nil, "", fmt.Errorf("write form field %s: %w", f[0], err)
		}
	}

	if in.Image != nil && in.Image.Content != nil {
		name := in.Image.Filename
		if name == "" {
			name = "image"
		}
		part, err := w.CreateFormFile("image", name)
		if err != nil {
			return nil, "", fmt.Errorf("create image part: %w", err)
		}
		if _, err := io.Copy(part, in.Image.Content); err != nil {
			return nil, "", fmt.Errorf("copy image: %w", err)
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart writer: %w", err)
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

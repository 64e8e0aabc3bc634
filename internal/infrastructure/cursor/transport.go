package cursor

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/opencursor/opencursor/gateway/internal/infrastructure/cursor/schema"
	"github.com/opencursor/opencursor/gateway/internal/infrastructure/wire"
	apperrors "github.com/opencursor/opencursor/gateway/pkg/errors"
)

const (
	runEndpoint    = "/agent.v1.AgentService/RunSSE"
	appendEndpoint = "/aiserver.v1.BidiService/BidiAppend"

	contentTypeGRPCWeb = "application/grpc-web+proto"
)

// TokenSource supplies the current access token; implementations may
// hot-reload it behind the scenes.
type TokenSource interface {
	Token() string
}

// TransportConfig configures the vendor egress.
type TransportConfig struct {
	BaseURL       string
	AccessToken   string
	ClientVersion string
	Timezone      string
	GhostMode     bool
	// Tokens, when set, overrides AccessToken on every call.
	Tokens TokenSource
	// Checksum derives x-cursor-checksum; nil selects DefaultChecksum.
	Checksum ChecksumFunc
}

// Transport performs the two HTTP calls the protocol is built from: the
// server-streaming RunSSE open and the unary BidiAppend.
type Transport struct {
	cfg      TransportConfig
	checksum ChecksumFunc
	client   *http.Client
	logger   *zap.Logger
}

// NewTransport creates a vendor transport.
func NewTransport(cfg TransportConfig, logger *zap.Logger) *Transport {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api2.cursor.sh"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	checksum := cfg.Checksum
	if checksum == nil {
		checksum = DefaultChecksum
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ResponseHeaderTimeout: 120 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          10,
		MaxIdleConnsPerHost:   5,
		TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
	}

	return &Transport{
		cfg:      cfg,
		checksum: checksum,
		client:   &http.Client{Transport: transport},
		logger:   logger.With(zap.String("component", "cursor-transport")),
	}
}

func (t *Transport) token() string {
	if t.cfg.Tokens != nil {
		return t.cfg.Tokens.Token()
	}
	return t.cfg.AccessToken
}

// setHeaders applies the mandatory header set to every vendor call.
func (t *Transport) setHeaders(req *http.Request, requestID string) {
	token := t.token()
	req.Header.Set("authorization", "Bearer "+token)
	req.Header.Set("content-type", contentTypeGRPCWeb)
	req.Header.Set("x-cursor-checksum", t.checksum(token, ChecksumBucket(time.Now())))
	req.Header.Set("x-cursor-client-version", t.cfg.ClientVersion)
	req.Header.Set("x-cursor-client-type", "cli")
	req.Header.Set("x-cursor-timezone", t.cfg.Timezone)
	req.Header.Set("x-ghost-mode", fmt.Sprintf("%t", t.cfg.GhostMode))
	req.Header.Set("x-request-id", requestID)
}

// OpenRun opens the server-streaming call for requestID. The request body is
// a single envelope wrapping BidiRequestId; the returned body streams framed
// AgentServerMessage envelopes until the turn ends.
func (t *Transport) OpenRun(ctx context.Context, requestID string) (io.ReadCloser, error) {
	body := wire.EncodeEnvelope(0, schema.EncodeBidiRequestID(requestID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.BaseURL+runEndpoint, bytes.NewReader(body))
	if err != nil {
		return nil, apperrors.NewTransportError("create run request", err)
	}
	t.setHeaders(req, requestID)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, apperrors.NewTransportError("open run stream", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		resp.Body.Close()
		return nil, apperrors.NewTransportError(
			fmt.Sprintf("run stream rejected: HTTP %d: %s", resp.StatusCode, string(detail)), nil)
	}

	t.logger.Debug("Run stream opened", zap.String("request_id", requestID))
	return resp.Body, nil
}

// Append posts one AgentClientMessage to the unary append endpoint as part
// of the turn identified by requestID.
func (t *Transport) Append(ctx context.Context, requestID string, msg []byte, seq int64) error {
	payload := schema.EncodeBidiAppend(msg, requestID, seq)
	body := wire.EncodeEnvelope(0, payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.BaseURL+appendEndpoint, bytes.NewReader(body))
	if err != nil {
		return apperrors.NewTransportError("create append request", err)
	}
	t.setHeaders(req, requestID)

	resp, err := t.client.Do(req)
	if err != nil {
		return apperrors.NewTransportError("post append", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return apperrors.NewTransportError(
			fmt.Sprintf("append rejected: HTTP %d (seq %d)", resp.StatusCode, seq), nil)
	}

	t.logger.Debug("Append posted",
		zap.String("request_id", requestID),
		zap.Int64("seq", seq),
		zap.Int("bytes", len(msg)),
	)
	return nil
}

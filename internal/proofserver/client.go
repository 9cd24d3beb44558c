// client.go - Remote proofs.Provider backed by a proof server.

package proofserver

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/consensys/gnark-crypto/ecc/bw6-761/fr"
	"github.com/iotaledger/hive.go/ierrors"
	"go.uber.org/zap"

	"ledgerengine/internal/ledger"
	"ledgerengine/internal/proofs"
	"ledgerengine/internal/serialize"
)

// Client talks to a proof server. Every request is idempotent, so 5xx answers
// and transport errors are retried with exponential backoff; any other non-2xx
// answer fails with ErrRejected.
type Client struct {
	baseURL    string
	network    serialize.NetworkID
	http       *http.Client
	maxRetries uint64
	log        *zap.Logger
}

var _ proofs.Provider = (*Client)(nil)

func NewClient(baseURL string, network serialize.NetworkID, client *http.Client, maxRetries uint64, log *zap.Logger) *Client {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Minute}
	}

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		network:    network,
		http:       client,
		maxRetries: maxRetries,
		log:        log,
	}
}

func (c *Client) Check(ctx context.Context, preimage proofs.Preimage) ([]*fr.Element, error) {
	body, err := serialize.Marshal(c.network, checkRequest{Preimage: preimage})
	if err != nil {
		return nil, err
	}
	data, err := c.do(ctx, http.MethodPost, "/check", body)
	if err != nil {
		return nil, ierrors.WithMessagef(proofs.ErrProving, "check %s: %w", preimage.KeyLocation, err)
	}
	resp, err := serialize.Unmarshal(c.network, checkResponseTag, data, readCheckResponse)
	if err != nil {
		return nil, ierrors.WithMessagef(proofs.ErrProving, "decode check response: %w", err)
	}

	return resp.Inputs, nil
}

func (c *Client) Prove(ctx context.Context, preimage proofs.Preimage, keyLocation string, overwriteBindingInput *fr.Element) (proofs.Proof, error) {
	body, err := serialize.Marshal(c.network, proveRequest{Preimage: preimage, KeyLocation: keyLocation, BindingInput: overwriteBindingInput})
	if err != nil {
		return proofs.Proof{}, err
	}
	data, err := c.do(ctx, http.MethodPost, "/prove", body)
	if err != nil {
		return proofs.Proof{}, ierrors.WithMessagef(proofs.ErrProving, "prove %s: %w", preimage.KeyLocation, err)
	}
	resp, err := serialize.Unmarshal(c.network, proveResponseTag, data, readProveResponse)
	if err != nil {
		return proofs.Proof{}, ierrors.WithMessagef(proofs.ErrProving, "decode prove response: %w", err)
	}

	return resp.Proof, nil
}

// ProveTransaction proves a whole transaction in one request.
func ProveTransaction[S proofs.SignatureStage, B proofs.BindingStage](ctx context.Context, c *Client, tx ledger.Transaction[S, proofs.Preimage, B]) (ledger.Transaction[S, proofs.Proof, B], error) {
	var zero ledger.Transaction[S, proofs.Proof, B]
	body, err := serialize.Marshal(c.network, tx)
	if err != nil {
		return zero, err
	}
	data, err := c.do(ctx, http.MethodPost, "/prove-tx", body)
	if err != nil {
		return zero, ierrors.WithMessagef(proofs.ErrProving, "prove transaction: %w", err)
	}

	proven, err := serialize.Unmarshal(c.network, zero.Tag(), data, ledger.ReadTransaction[S, proofs.Proof, B])
	if err != nil {
		return zero, ierrors.WithMessagef(proofs.ErrProving, "decode proven transaction: %w", err)
	}

	return proven, nil
}

// Ready reports whether the server has a free proving slot.
func (c *Client) Ready(ctx context.Context) (Readiness, error) {
	var r Readiness
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/ready", nil)
	if err != nil {
		return r, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return r, ierrors.WithMessagef(ErrUnavailable, "%w", err)
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return r, ierrors.Wrap(err, "failed to decode readiness")
	}
	if resp.StatusCode != http.StatusOK {
		return r, ierrors.Wrapf(ErrUnavailable, "server is %s", r.Status)
	}

	return r, nil
}

// Version returns the server version string.
func (c *Client) Version(ctx context.Context) (string, error) {
	data, err := c.do(ctx, http.MethodGet, "/version", nil)
	if err != nil {
		return "", err
	}

	return string(data), nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var out []byte
	operation := func() error {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return backoff.Permanent(err)
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/octet-stream")
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return ierrors.WithMessagef(ErrUnavailable, "%w", err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		switch {
		case resp.StatusCode >= 500:
			return ierrors.Wrapf(ErrUnavailable, "%s returned %d: %s", path, resp.StatusCode, errorMessage(data))
		case resp.StatusCode < 200 || resp.StatusCode >= 300:
			return backoff.Permanent(ierrors.Wrapf(ErrRejected, "%s returned %d: %s", path, resp.StatusCode, errorMessage(data)))
		case err != nil:
			return err
		}
		out = data

		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.maxRetries), ctx)
	notify := func(err error, wait time.Duration) {
		c.log.Debug("retrying proof server request", zap.String("path", path), zap.Duration("wait", wait), zap.Error(err))
	}
	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		return nil, err
	}

	return out, nil
}

// errorMessage extracts the message of an echo error body.
func errorMessage(data []byte) string {
	var body struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &body); err == nil && body.Message != "" {
		return body.Message
	}

	return strings.TrimSpace(string(data))
}

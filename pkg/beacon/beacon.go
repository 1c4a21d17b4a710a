// Package beacon is a minimal beacon node API client.
package beacon

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/ethpandaops/validator-deposits/pkg/device"
)

// ErrValidatorNotFound is returned when the node does not know the validator.
var ErrValidatorNotFound = errors.New("validator not found")

// BeaconAPI handles interactions with the beacon node
type BeaconAPI struct {
	baseURL string
	client  *http.Client
}

// NewBeaconAPI creates a new BeaconAPI instance
func NewBeaconAPI(baseURL string) *BeaconAPI {
	return &BeaconAPI{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// ValidatorInfo contains information about a validator
type ValidatorInfo struct {
	Index                 uint64
	Pubkey                string
	Status                string
	WithdrawalCredentials string
}

// Genesis holds the chain identity reported by the node.
type Genesis struct {
	GenesisValidatorsRoot string
	GenesisForkVersion    string
}

// Validator looks up a validator by 0x-prefixed public key or index at head.
func (b *BeaconAPI) Validator(ctx context.Context, id string) (*ValidatorInfo, error) {
	var result struct {
		Data struct {
			Index     string `json:"index"`
			Status    string `json:"status"`
			Validator struct {
				Pubkey                string `json:"pubkey"`
				WithdrawalCredentials string `json:"withdrawal_credentials"`
			} `json:"validator"`
		} `json:"data"`
	}

	status, err := b.do(ctx, http.MethodGet, "/eth/v1/beacon/states/head/validators/"+id, nil, &result)
	if status == http.StatusNotFound {
		return nil, errors.Wrap(ErrValidatorNotFound, id)
	}

	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch validator")
	}

	index, err := strconv.ParseUint(result.Data.Index, 10, 64)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse validator index")
	}

	info := &ValidatorInfo{
		Index:                 index,
		Pubkey:                result.Data.Validator.Pubkey,
		Status:                result.Data.Status,
		WithdrawalCredentials: result.Data.Validator.WithdrawalCredentials,
	}

	log.WithField("index", index).WithField("status", info.Status).Debug("Validator fetched")

	return info, nil
}

// FetchGenesis fetches the genesis validators root and fork version.
func (b *BeaconAPI) FetchGenesis(ctx context.Context) (*Genesis, error) {
	var result struct {
		Data struct {
			GenesisValidatorsRoot string `json:"genesis_validators_root"`
			GenesisForkVersion    string `json:"genesis_fork_version"`
		} `json:"data"`
	}

	if _, err := b.do(ctx, http.MethodGet, "/eth/v1/beacon/genesis", nil, &result); err != nil {
		return nil, errors.Wrap(err, "failed to fetch genesis")
	}

	return &Genesis{
		GenesisValidatorsRoot: result.Data.GenesisValidatorsRoot,
		GenesisForkVersion:    result.Data.GenesisForkVersion,
	}, nil
}

// SubmitBLSToExecutionChanges posts signed changes to the node's pool.
func (b *BeaconAPI) SubmitBLSToExecutionChanges(ctx context.Context, changes []*device.SignedCredentialChange) error {
	body, err := json.Marshal(changes)
	if err != nil {
		return errors.Wrap(err, "failed to marshal credential changes")
	}

	if _, err := b.do(ctx, http.MethodPost, SubmitChangesEndpoint, body, nil); err != nil {
		return errors.Wrap(err, "failed to submit credential changes")
	}

	log.WithField("count", len(changes)).Info("Submitted credential changes")

	return nil
}

// SubmitChangesEndpoint is the pool endpoint for BLSToExecutionChange messages.
const SubmitChangesEndpoint = "/eth/v1/beacon/pool/bls_to_execution_changes"

func (b *BeaconAPI) do(ctx context.Context, method, endpoint string, body []byte, out any) (int, error) {
	requestURL, err := url.Parse(b.baseURL)
	if err != nil {
		return 0, errors.Wrap(err, "failed to parse base URL")
	}

	requestURL.Path += endpoint

	urlStr := requestURL.String()

	log.WithField("url", urlStr).WithField("method", method).Debug("Calling beacon node")

	var reader io.Reader = http.NoBody
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, urlStr, reader)
	if err != nil {
		return 0, errors.Wrap(err, "failed to create request")
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return 0, errors.Wrap(err, "request failed")
	}

	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)

		return resp.StatusCode, errors.Errorf("%s - %s", resp.Status, string(msg))
	}

	if out == nil {
		return resp.StatusCode, nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, errors.Wrap(err, "failed to decode response")
	}

	return resp.StatusCode, nil
}

package account

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/tedee/lock-command/internal/log"
	"github.com/tedee/lock-command/pkg/lock"
	"github.com/tedee/lock-command/pkg/protocol"
)

const (
	apiVersion = "api/v1.32"

	// OperatingSystem is reported to the API when registering a mobile identity.
	OperatingSystem = 3
)

type mobileRegistration struct {
	Name            string `json:"name"`
	OperatingSystem int    `json:"operatingSystem"`
	PublicKey       string `json:"publicKey"`
}

type registrationResult struct {
	ID json.Number `json:"id"`
}

type certificateResult struct {
	Certificate     string `json:"certificate"`
	DevicePublicKey string `json:"devicePublicKey"`
	MobilePublicKey string `json:"mobilePublicKey"`
	ExpirationDate  string `json:"expirationDate"`
}

// RegisterMobile registers publicKey under name and returns the new registration's ID.
//
// Registration is not idempotent: every call creates a new registration.
func (c *Client) RegisterMobile(ctx context.Context, name string, publicKey []byte) (string, error) {
	body := mobileRegistration{
		Name:            name,
		OperatingSystem: OperatingSystem,
		PublicKey:       base64.StdEncoding.EncodeToString(publicKey),
	}
	raw, err := c.do(ctx, "POST", apiVersion+"/my/mobile", &body)
	if err != nil {
		return "", err
	}
	var result registrationResult
	if err := json.Unmarshal(raw, &result); err != nil || result.ID == "" {
		return "", protocol.ServerError(fmt.Errorf("registration response has no id"), false)
	}
	log.Info("Registered mobile %s with ID %s", name, result.ID)
	return result.ID.String(), nil
}

// FetchCertificate returns the credential that lets registrationID open sessions with deviceID.
func (c *Client) FetchCertificate(ctx context.Context, registrationID, deviceID string) (*lock.Credential, error) {
	query := url.Values{}
	query.Set("MobileId", registrationID)
	query.Set("DeviceId", deviceID)
	raw, err := c.do(ctx, "GET", apiVersion+"/my/devicecertificate/getformobile?"+query.Encode(), nil)
	if err != nil {
		return nil, err
	}
	var result certificateResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, protocol.ServerError(fmt.Errorf("malformed certificate response: %w", err), false)
	}
	credential := &lock.Credential{}
	fields := []struct {
		name  string
		value string
		dest  *[]byte
	}{
		{"certificate", result.Certificate, &credential.Certificate},
		{"devicePublicKey", result.DevicePublicKey, &credential.DevicePublicKey},
		{"mobilePublicKey", result.MobilePublicKey, &credential.MobilePublicKey},
	}
	for _, f := range fields {
		decoded, err := base64.StdEncoding.DecodeString(f.value)
		if err != nil {
			return nil, protocol.ServerError(fmt.Errorf("certificate response has malformed %s: %w", f.name, err), false)
		}
		*f.dest = decoded
	}
	if result.ExpirationDate != "" {
		expiration, err := parseTime(result.ExpirationDate)
		if err != nil {
			return nil, protocol.ServerError(fmt.Errorf("certificate response has malformed expirationDate: %w", err), false)
		}
		credential.Expiration = &expiration
		log.Debug("Certificate for device %s expires %s", deviceID, expiration)
	}
	return credential, nil
}

// SignedTime fetches the current time signed by the API.
func (c *Client) SignedTime(ctx context.Context) (*lock.SignedTime, error) {
	raw, err := c.do(ctx, "GET", apiVersion+"/datetime/getsignedtime", nil)
	if err != nil {
		return nil, err
	}
	var result lock.SignedTime
	if err := json.Unmarshal(raw, &result); err != nil || result.Datetime == "" || result.Signature == "" {
		return nil, protocol.ServerError(fmt.Errorf("malformed signed time response"), false)
	}
	return &result, nil
}

// The API omits the zone designator on some timestamps; those are UTC.
func parseTime(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.ParseInLocation("2006-01-02T15:04:05.999999999", value, time.UTC)
}

// Package lock defines the values exchanged between the provisioning service, the session bridge
// and a lock session.
package lock

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Identity identifies one physical lock.
type Identity struct {
	SerialNumber string `json:"serialNumber"`
	DeviceID     string `json:"deviceId"`
	Name         string `json:"name"`
}

// ErrMissingField is returned by Identity.Validate.
type ErrMissingField struct {
	Field string
}

func (e *ErrMissingField) Error() string {
	return fmt.Sprintf("missing %s", e.Field)
}

// ErrInvalidDeviceID is returned by Identity.Validate when the device ID is not a decimal number.
type ErrInvalidDeviceID struct {
	DeviceID string
}

func (e *ErrInvalidDeviceID) Error() string {
	return fmt.Sprintf("deviceId %q is not numeric", e.DeviceID)
}

// Validate checks that every field is set and that the device ID is numeric, as the
// certificate API requires.
func (i Identity) Validate() error {
	switch {
	case strings.TrimSpace(i.SerialNumber) == "":
		return &ErrMissingField{"serialNumber"}
	case strings.TrimSpace(i.DeviceID) == "":
		return &ErrMissingField{"deviceId"}
	case strings.TrimSpace(i.Name) == "":
		return &ErrMissingField{"name"}
	}
	if _, err := strconv.ParseInt(i.DeviceID, 10, 32); err != nil {
		return &ErrInvalidDeviceID{i.DeviceID}
	}
	return nil
}

// Key returns the string credential stores index records by.
func (i Identity) Key() string {
	return i.SerialNumber + "/" + i.DeviceID
}

func (i Identity) String() string {
	return fmt.Sprintf("%s (%s, device %s)", i.Name, i.SerialNumber, i.DeviceID)
}

// Credential is the trust material needed to open a secure session with a lock.
type Credential struct {
	Certificate     []byte     `json:"certificate"`
	DevicePublicKey []byte     `json:"devicePublicKey"`
	MobilePublicKey []byte     `json:"mobilePublicKey"`
	Expiration      *time.Time `json:"expiration,omitempty"`
}

// Complete reports whether the credential can be used to open a session.
func (c *Credential) Complete() bool {
	return c != nil && len(c.Certificate) > 0 && len(c.DevicePublicKey) > 0 && len(c.MobilePublicKey) > 0
}

// Expired reports whether the certificate has an expiration before now. Credentials without an
// expiration never expire.
func (c *Credential) Expired(now time.Time) bool {
	return c != nil && c.Expiration != nil && c.Expiration.Before(now)
}

type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
)

func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	}
	return fmt.Sprintf("ConnectionState(%d)", int(s))
}

// CommandResult is the decoded response to a command sent to the lock.
type CommandResult struct {
	Raw         []byte `json:"raw"`
	Description string `json:"description"`
}

func (r CommandResult) String() string {
	return r.Description
}

// Notification is a decoded unsolicited message from the lock.
type Notification struct {
	Raw         []byte `json:"raw"`
	Description string `json:"description"`
}

// SignedTime is a clock value signed by the remote API. Locks require one to set their clock.
type SignedTime struct {
	Datetime  string `json:"datetime"`
	Signature string `json:"signature"`
}

func (t SignedTime) String() string {
	return fmt.Sprintf("SignedTime(datetime=%s, signature=%s)", t.Datetime, t.Signature)
}

type DeviceSettings struct {
	AutoLockEnabled      bool `json:"autoLockEnabled"`
	AutoLockDelay        int  `json:"autoLockDelay"`
	PullSpringEnabled    bool `json:"pullSpringEnabled"`
	PullSpringDuration   int  `json:"pullSpringDuration"`
	AutoPullSpringEnable bool `json:"autoPullSpringEnabled"`
	ButtonLockEnabled    bool `json:"buttonLockEnabled"`
	ButtonUnlockEnabled  bool `json:"buttonUnlockEnabled"`
}

func (s DeviceSettings) String() string {
	return fmt.Sprintf("DeviceSettings(autoLockEnabled=%t, autoLockDelay=%d, pullSpringEnabled=%t, "+
		"pullSpringDuration=%d, autoPullSpringEnabled=%t, buttonLockEnabled=%t, buttonUnlockEnabled=%t)",
		s.AutoLockEnabled, s.AutoLockDelay, s.PullSpringEnabled, s.PullSpringDuration,
		s.AutoPullSpringEnable, s.ButtonLockEnabled, s.ButtonUnlockEnabled)
}

type FirmwareVersion struct {
	SoftwareVersion string `json:"softwareVersion"`
	HardwareVersion string `json:"hardwareVersion"`
}

func (v FirmwareVersion) String() string {
	return fmt.Sprintf("FirmwareVersion(software=%s, hardware=%s)", v.SoftwareVersion, v.HardwareVersion)
}

// Package config loads per-deployment defaults for a signing engine from a
// TOML document: the digest algorithm and conformance level to fall back to
// when a caller's SignData leaves them unset, the /Contents reserved
// capacity floor for each conformance level, default Reason/Location
// signature metadata, and the signing-date freeze toggle used by golden-file
// tests.
package config

import (
	"crypto"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/asaskevich/govalidator"

	"github.com/avylen/padessign/sign"
)

func init() {
	govalidator.SetFieldsRequiredByDefault(true)
}

// DefaultLocation is where Load looks when the caller doesn't name a path.
var DefaultLocation = "./padessign.conf"

// ContentsFloor is the minimum number of hex characters an engine reserves
// for /Contents before any certificate, chain, or revocation-data sizing is
// added on top, keyed by conformance level.
type ContentsFloor struct {
	B   int `toml:"b" valid:"-"`
	T   int `toml:"t" valid:"-"`
	LT  int `toml:"lt" valid:"-"`
	LTA int `toml:"lta" valid:"-"`
}

// Info carries the default signature metadata applied when a caller's
// SignDataSignatureInfo leaves a field empty. Every field is optional.
type Info struct {
	Reason      string `toml:"reason" valid:"-"`
	Location    string `toml:"location" valid:"-"`
	ContactInfo string `toml:"contact_info" valid:"-"`
}

// EngineConfig is the validated result of parsing a TOML configuration
// document. Every field has a usable zero value, so a caller may also build
// one directly without going through Load.
type EngineConfig struct {
	// DigestAlgorithm names the hash used when none is set on SignData. Valid
	// values: "SHA256", "SHA384", "SHA512".
	DigestAlgorithm string `toml:"digest_algorithm" valid:"in(SHA256|SHA384|SHA512)"`

	// DefaultConformance names the PAdES baseline profile assumed when a
	// caller doesn't pick one explicitly.
	DefaultConformance string `toml:"default_conformance" valid:"in(ADES_B_B|ADES_B_T|ADES_B_LT|ADES_B_LTA)"`

	ContentsFloor ContentsFloor `toml:"contents_floor" valid:"-"`
	Info          Info          `toml:"info" valid:"-"`

	// FreezeSigningDateRFC3339, when set, pins every signature's /M and
	// signing-time attribute to this instant instead of the current time.
	// Intended for test builds that need byte-identical golden files; left
	// empty in production configuration.
	FreezeSigningDateRFC3339 string `toml:"freeze_signing_date" valid:"-"`
}

// Digest resolves DigestAlgorithm to a crypto.Hash, defaulting to SHA-256 if
// the field is empty.
func (c EngineConfig) Digest() crypto.Hash {
	switch c.DigestAlgorithm {
	case "SHA384":
		return crypto.SHA384
	case "SHA512":
		return crypto.SHA512
	default:
		return crypto.SHA256
	}
}

// Conformance resolves DefaultConformance to a sign.Conformance, defaulting
// to the B-B baseline profile if the field is empty or unrecognized.
func (c EngineConfig) Conformance() sign.Conformance {
	switch sign.Conformance(c.DefaultConformance) {
	case sign.ConformanceT, sign.ConformanceLT, sign.ConformanceLTA:
		return sign.Conformance(c.DefaultConformance)
	default:
		return sign.ConformanceB
	}
}

// ContentsFloorFor returns the reserved /Contents capacity floor, in hex
// characters, for the given conformance level.
func (c EngineConfig) ContentsFloorFor(level sign.Conformance) int {
	switch level {
	case sign.ConformanceT:
		return c.ContentsFloor.T
	case sign.ConformanceLT:
		return c.ContentsFloor.LT
	case sign.ConformanceLTA:
		return c.ContentsFloor.LTA
	default:
		return c.ContentsFloor.B
	}
}

// FreezeSigningDate parses FreezeSigningDateRFC3339, returning nil (meaning
// "use the current UTC time") when the field is empty.
func (c EngineConfig) FreezeSigningDate() (*time.Time, error) {
	if c.FreezeSigningDateRFC3339 == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, c.FreezeSigningDateRFC3339)
	if err != nil {
		return nil, fmt.Errorf("config: parsing freeze_signing_date: %w", err)
	}
	return &t, nil
}

// ValidateFields validates all the fields of the config.
func (c EngineConfig) ValidateFields() error {
	if _, err := govalidator.ValidateStruct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if _, err := c.FreezeSigningDate(); err != nil {
		return err
	}
	return nil
}

// Placeholder floors, in hex characters, for the /Contents reservation at
// each conformance level before any certificate/chain/revocation sizing is
// added: B needs only room for a CMS signature, T adds a TSA token, LT adds
// full chain/CRL/OCSP material, LTA adds a second DocTimeStamp token on top.
const (
	hexFloorB   = 4096
	hexFloorT   = 16384
	hexFloorLT  = 32768
	hexFloorLTA = 49152
)

// Default returns the built-in fallback configuration, used when no
// configuration file exists at the requested path.
func Default() EngineConfig {
	return EngineConfig{
		DigestAlgorithm:    "SHA256",
		DefaultConformance: string(sign.ConformanceB),
		ContentsFloor: ContentsFloor{
			B:   hexFloorB,
			T:   hexFloorT,
			LT:  hexFloorLT,
			LTA: hexFloorLTA,
		},
	}
}

// Load reads and validates the TOML document at path. If path does not
// exist, Load returns Default() without error - an engine deployed with no
// configuration file still has sane behavior.
func Load(path string) (EngineConfig, error) {
	if path == "" {
		path = DefaultLocation
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Default(), nil
	}

	var c EngineConfig
	if _, err := toml.DecodeFile(path, &c); err != nil {
		return EngineConfig{}, fmt.Errorf("config: decoding %s: %w", path, err)
	}

	if c.DigestAlgorithm == "" {
		c.DigestAlgorithm = "SHA256"
	}
	if c.DefaultConformance == "" {
		c.DefaultConformance = string(sign.ConformanceB)
	}

	if err := c.ValidateFields(); err != nil {
		return EngineConfig{}, err
	}
	return c, nil
}

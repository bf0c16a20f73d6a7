// Package oracle defines the contract of the external Analysis Oracle that
// judges market relevance and impact, and an LLM-backed implementation.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/elonfeng/marketradar/pkg/news"
)

var (
	// ErrInvalidAssessment is returned for assessments missing required fields.
	ErrInvalidAssessment = errors.New("invalid assessment")
	// ErrDisabled is returned by a nil or unconfigured oracle.
	ErrDisabled = errors.New("oracle disabled")
)

// Oracle judges articles. Both calls are unreliable; callers must fall back.
type Oracle interface {
	ClassifyRelevance(ctx context.Context, a news.Article) (Relevance, error)
	Analyze(ctx context.Context, a news.Article) (Assessment, error)
}

// Relevance is the oracle's market-relevance verdict.
type Relevance struct {
	Relevant bool   `json:"relevant"`
	Reason   string `json:"reason"`
}

// Assessment is the oracle's structured reading of an article.
type Assessment struct {
	Relevant       bool            `json:"relevant"`
	Reason         string          `json:"reason"`
	PrimaryTopic   string          `json:"primary_topic"`
	AffectedAssets []AffectedAsset `json:"affected_assets"`
	MacroTags      []string        `json:"macro_tags"`
	Notes          string          `json:"notes"`
	Sources        []string        `json:"sources"`
}

// AssetType classifies an affected asset.
type AssetType string

const (
	AssetEquity AssetType = "equity"
	AssetCrypto AssetType = "crypto"
	AssetETF    AssetType = "etf"
	AssetIndex  AssetType = "index"
	AssetBond   AssetType = "bond"
	AssetFX     AssetType = "fx"
)

// Direction is the expected price move.
type Direction string

const (
	DirectionUp      Direction = "up"
	DirectionDown    Direction = "down"
	DirectionUnclear Direction = "unclear"
)

// Horizon is the time frame of the expected move.
type Horizon string

const (
	HorizonIntraday Horizon = "intraday"
	HorizonSwing    Horizon = "swing"
	HorizonLong     Horizon = "long"
)

// AffectedAsset is one asset-level prediction.
type AffectedAsset struct {
	Symbol     string    `json:"symbol"`
	AssetType  AssetType `json:"asset_type"`
	Direction  Direction `json:"direction"`
	Impact     int       `json:"impact"`
	Horizon    Horizon   `json:"horizon"`
	Confidence float64   `json:"confidence"`
}

// Validate checks a relevant assessment for required fields and ranges.
// Irrelevant assessments carry no payload and are always valid.
func (a *Assessment) Validate() error {
	if !a.Relevant {
		return nil
	}
	if strings.TrimSpace(a.PrimaryTopic) == "" {
		return fmt.Errorf("%w: missing primary_topic", ErrInvalidAssessment)
	}
	for i, asset := range a.AffectedAssets {
		if err := asset.validate(); err != nil {
			return fmt.Errorf("%w: affected_assets[%d]: %v", ErrInvalidAssessment, i, err)
		}
	}
	return nil
}

func (a AffectedAsset) validate() error {
	if strings.TrimSpace(a.Symbol) == "" {
		return errors.New("missing symbol")
	}
	switch a.AssetType {
	case AssetEquity, AssetCrypto, AssetETF, AssetIndex, AssetBond, AssetFX:
	default:
		return fmt.Errorf("unknown asset_type %q", a.AssetType)
	}
	switch a.Direction {
	case DirectionUp, DirectionDown, DirectionUnclear:
	default:
		return fmt.Errorf("unknown direction %q", a.Direction)
	}
	switch a.Horizon {
	case HorizonIntraday, HorizonSwing, HorizonLong:
	default:
		return fmt.Errorf("unknown horizon %q", a.Horizon)
	}
	if a.Impact < 1 || a.Impact > 5 {
		return fmt.Errorf("impact %d outside 1-5", a.Impact)
	}
	if a.Confidence < 0 || a.Confidence > 1 {
		return fmt.Errorf("confidence %.2f outside 0-1", a.Confidence)
	}
	return nil
}

// Normalize uppercases symbols and lowercases enum fields in place so that
// loosely formatted model output still validates.
func (a *Assessment) Normalize() {
	a.PrimaryTopic = strings.TrimSpace(a.PrimaryTopic)
	for i := range a.AffectedAssets {
		asset := &a.AffectedAssets[i]
		asset.Symbol = strings.ToUpper(strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(asset.Symbol), "$")))
		asset.AssetType = AssetType(strings.ToLower(strings.TrimSpace(string(asset.AssetType))))
		asset.Direction = Direction(strings.ToLower(strings.TrimSpace(string(asset.Direction))))
		asset.Horizon = Horizon(strings.ToLower(strings.TrimSpace(string(asset.Horizon))))
	}
}

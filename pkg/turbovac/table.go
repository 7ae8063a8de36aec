// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package turbovac provides the parameter, error and warning tables of
// TURBOVAC i/iX frequency converters.
package turbovac

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"sync"

	"github.com/Thermoquad/turboctl/pkg/uss"
	"gopkg.in/yaml.v3"
)

// Parameter numbers with a fixed meaning in the converter
const (
	ParamFrequency      = 3
	ParamVoltage        = 4
	ParamCurrent        = 5
	ParamMotorPower     = 6
	ParamMotorTemp      = 7
	ParamSaveData       = 8
	ParamConverterTemp  = 11
	ParamReserved       = 9
	ParamMaxFrequency   = 18
	ParamMinFrequency   = 20
	ParamSetpoint       = 24
	ParamErrorCount     = 40
	ParamOverloadCount  = 41
	ParamPowerFailCount = 43
	ParamErrorList      = 171
	ParamErrorFrequency = 174
	ParamErrorHours     = 176
	ParamOperatingHours = 184
	ParamMaintenance    = 190
	ParamGasLoad        = 199
	ParamWarningBits    = 227
)

//go:embed parameters.yaml
var defaultTable []byte

type tableFile struct {
	Parameters []parameterEntry `yaml:"parameters"`
	Errors     []noticeEntry    `yaml:"errors"`
	Warnings   []noticeEntry    `yaml:"warnings"`
	Reserved   []int            `yaml:"reserved"`
}

type parameterEntry struct {
	Number      int    `yaml:"number"`
	Name        string `yaml:"name"`
	Indices     int    `yaml:"indices"`
	Format      string `yaml:"format"`
	Access      string `yaml:"access"`
	Unit        string `yaml:"unit"`
	Min         string `yaml:"min"`
	Max         string `yaml:"max"`
	Default     any    `yaml:"default"`
	Description string `yaml:"description"`
}

type noticeEntry struct {
	Number int    `yaml:"number"`
	Name   string `yaml:"name"`
	Cause  string `yaml:"cause"`
	Remedy string `yaml:"remedy"`
}

var formatPattern = regexp.MustCompile(`^([a-z]+)([0-9]+)$`)

var defaultModel = sync.OnceValues(func() (*uss.Model, error) {
	return Load(defaultTable)
})

// DefaultModel returns the built-in table. The model is shared.
func DefaultModel() (*uss.Model, error) {
	return defaultModel()
}

// LoadFile reads a table in the built-in YAML format
func LoadFile(path string) (*uss.Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read parameter table: %w", err)
	}
	return Load(data)
}

// Load parses a YAML table into a model
func Load(data []byte) (*uss.Model, error) {
	var file tableFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse parameter table: %w", err)
	}

	defs := make([]uss.Definition, 0, len(file.Parameters))
	for _, e := range file.Parameters {
		d, err := e.definition()
		if err != nil {
			return nil, fmt.Errorf("parameter %d: %w", e.Number, err)
		}
		defs = append(defs, d)
	}

	return uss.NewModel(defs, notices(file.Errors), notices(file.Warnings), file.Reserved)
}

func (e parameterEntry) definition() (uss.Definition, error) {
	d := uss.Definition{
		Number:      e.Number,
		Name:        e.Name,
		Description: e.Description,
		Unit:        e.Unit,
		Indices:     e.Indices,
	}

	var err error
	if d.Datatype, d.Bits, err = parseFormat(e.Format); err != nil {
		return d, err
	}
	if d.Writable, err = parseAccess(e.Access); err != nil {
		return d, err
	}
	if d.Min, err = uss.ParseBound(e.Min); err != nil {
		return d, err
	}
	if d.Max, err = uss.ParseBound(e.Max); err != nil {
		return d, err
	}
	if d.Defaults, err = parseDefaults(d.Datatype, d.Bits, e.Default); err != nil {
		return d, err
	}
	return d, nil
}

func parseFormat(s string) (uss.Datatype, int, error) {
	m := formatPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, 0, fmt.Errorf("invalid format %q", s)
	}
	dt, err := uss.ParseDatatype(m[1])
	if err != nil {
		return 0, 0, err
	}
	bits, err := strconv.Atoi(m[2])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid size in format %q", s)
	}
	return dt, bits, nil
}

func parseAccess(s string) (bool, error) {
	switch s {
	case "r/w":
		return true, nil
	case "r", "":
		return false, nil
	}
	return false, fmt.Errorf("invalid access %q", s)
}

func parseDefaults(dt uss.Datatype, bits int, raw any) ([]uss.Value, error) {
	if raw == nil {
		return nil, nil
	}
	items, ok := raw.([]any)
	if !ok {
		items = []any{raw}
	}
	out := make([]uss.Value, 0, len(items))
	for _, item := range items {
		v, err := uss.ValueOf(dt, bits, item)
		if err != nil {
			return nil, fmt.Errorf("default: %w", err)
		}
		out = append(out, v)
	}
	return out, nil
}

func notices(entries []noticeEntry) []uss.ErrorOrWarning {
	out := make([]uss.ErrorOrWarning, 0, len(entries))
	for _, e := range entries {
		out = append(out, uss.ErrorOrWarning{
			Number:        e.Number,
			Name:          e.Name,
			PossibleCause: e.Cause,
			Remedy:        e.Remedy,
		})
	}
	return out
}

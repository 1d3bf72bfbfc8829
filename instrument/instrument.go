// Package instrument rewrites module binaries before compilation.
//
// InjectFuel adds deterministic operation metering: an exported mutable i64
// global holds the remaining budget and every control-flow or call
// instruction is preceded by a charge for the straight-line run that led to
// it. CanonicalizeNaNs makes float results bit-for-bit reproducible across
// hosts by collapsing every NaN into the canonical quiet NaN.
//
// Both passes leave sections they do not touch byte-identical.
package instrument

import (
	"math"

	"github.com/wippyai/wasm-bridge/errors"
	"github.com/wippyai/wasm-bridge/wasm"
)

// FuelGlobal is the export name of the injected fuel counter.
const FuelGlobal = "__bridge_fuel"

// Exhausted is stored in the fuel global right before the trap raised by a
// charge the budget cannot cover. Any other trap leaves a smaller value.
const Exhausted uint64 = math.MaxUint64

// Options selects the passes Apply runs.
type Options struct {
	Fuel             bool
	CanonicalizeNaNs bool

	// InitialFuel is the fuel global's value at instantiation, which is
	// what a start function runs on.
	InitialFuel uint64
}

// Result describes an instrumented module.
type Result struct {
	Binary []byte

	// FuelGlobal is the exported fuel global, empty when Fuel was off.
	FuelGlobal string

	// Charges is the number of fuel checks inserted.
	Charges int

	// Canonicalized is the number of float results guarded.
	Canonicalized int
}

// Apply runs the selected passes. NaN canonicalization runs first so its
// guard sequences are metered like any other code.
func Apply(bin []byte, opts Options) (Result, error) {
	res := Result{Binary: bin}
	if !opts.Fuel && !opts.CanonicalizeNaNs {
		return res, nil
	}
	sections, err := split(bin)
	if err != nil {
		return Result{}, err
	}
	if opts.CanonicalizeNaNs {
		if sections, res.Canonicalized, err = canonicalizeNaNs(sections); err != nil {
			return Result{}, err
		}
	}
	if opts.Fuel {
		if sections, res.Charges, err = injectFuel(sections, opts.InitialFuel); err != nil {
			return Result{}, err
		}
		res.FuelGlobal = FuelGlobal
	}
	res.Binary = wasm.AssembleSections(sections)
	return res, nil
}

// InjectFuel adds fuel metering to bin.
func InjectFuel(bin []byte) ([]byte, error) {
	res, err := Apply(bin, Options{Fuel: true})
	return res.Binary, err
}

// CanonicalizeNaNs guards every NaN-producing float instruction in bin.
func CanonicalizeNaNs(bin []byte) ([]byte, error) {
	res, err := Apply(bin, Options{CanonicalizeNaNs: true})
	return res.Binary, err
}

func split(bin []byte) ([]wasm.Section, error) {
	sections, err := wasm.SplitSections(bin)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseInstrument, errors.KindInvalidData, err, "parse module")
	}
	return sections, nil
}

// rewriteErr classifies a failure to walk a function body.
func rewriteErr(fn int, err error) error {
	var ue *wasm.UnsupportedError
	if errors.As(err, &ue) {
		return errors.New(errors.PhaseInstrument, errors.KindUnsupported).
			Detail("function %d: %s", fn, ue.Error()).
			Cause(err).
			Build()
	}
	return errors.New(errors.PhaseInstrument, errors.KindInvalidData).
		Detail("function %d", fn).
		Cause(err).
		Build()
}

func parseErr(what string, err error) error {
	var ue *wasm.UnsupportedError
	if errors.As(err, &ue) {
		return errors.Wrap(errors.PhaseInstrument, errors.KindUnsupported, err, what)
	}
	return errors.Wrap(errors.PhaseInstrument, errors.KindInvalidData, err, what)
}

// codeBodies returns the index of the code section and its parsed bodies.
// A module without code yields -1 and no error.
func codeBodies(sections []wasm.Section) (int, []wasm.FuncBody, error) {
	ci := wasm.FindSection(sections, wasm.SectionCode)
	if ci < 0 {
		return -1, nil, nil
	}
	bodies, err := wasm.ParseCode(sections[ci].Payload)
	if err != nil {
		return -1, nil, parseErr("code section", err)
	}
	return ci, bodies, nil
}

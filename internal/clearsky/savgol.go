package clearsky

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"pv_clearsky/internal/model"
)

// ValidateSmoothing checks Savitzky-Golay parameters against a curve of n
// points: window must be odd with 1 <= window <= n, and 0 <= order < window.
func ValidateSmoothing(n, window, order int) error {
	switch {
	case window < 1:
		return &ParameterError{Name: "window", Value: window, Reason: "must be at least 1"}
	case window%2 == 0:
		return &ParameterError{Name: "window", Value: window, Reason: "must be odd"}
	case window > n:
		return &ParameterError{Name: "window", Value: window, Reason: fmt.Sprintf("must not exceed the curve length %d", n)}
	case order < 0:
		return &ParameterError{Name: "order", Value: order, Reason: "must not be negative"}
	case order >= window:
		return &ParameterError{Name: "order", Value: order, Reason: fmt.Sprintf("must be less than the window %d", window)}
	}
	return nil
}

// Smooth applies a Savitzky-Golay filter: every point is replaced by the
// value at that point of a least-squares polynomial of the given order fitted
// over a window of neighbours. Interior points use a centred window. The
// first and last window/2 points are evaluated on the polynomial fitted to
// the first or last window points, so the output has the input's length.
func Smooth(curve model.Curve, window, order int) (model.Curve, error) {
	n := len(curve)
	if err := ValidateSmoothing(n, window, order); err != nil {
		return nil, err
	}

	out := make(model.Curve, n)
	if window == 1 {
		copy(out, curve)
		return out, nil
	}

	fit, err := newPolyFit(window, order)
	if err != nil {
		return nil, err
	}

	half := window / 2
	centre := fit.weights(half)
	for i := half; i < n-half; i++ {
		out[i] = floats.Dot(centre, curve[i-half:i+half+1])
	}

	head := curve[:window]
	tail := curve[n-window:]
	for pos := 0; pos < half; pos++ {
		out[pos] = floats.Dot(fit.weights(pos), head)
		out[n-half+pos] = floats.Dot(fit.weights(window-half+pos), tail)
	}

	return out, nil
}

// polyFit is the least-squares projection of window samples onto the
// polynomials of a given order. Abscissae are centred and scaled to [-1, 1].
type polyFit struct {
	window int
	order  int
	// pinv is the (order+1) x window pseudo-inverse of the Vandermonde
	// matrix, mapping samples to polynomial coefficients.
	pinv mat.Dense
}

func newPolyFit(window, order int) (*polyFit, error) {
	f := &polyFit{window: window, order: order}

	vander := mat.NewDense(window, order+1, nil)
	for j := 0; j < window; j++ {
		x := f.abscissa(j)
		p := 1.0
		for k := 0; k <= order; k++ {
			vander.Set(j, k, p)
			p *= x
		}
	}

	ones := make([]float64, window)
	floats.AddConst(1, ones)

	var qr mat.QR
	qr.Factorize(vander)
	if err := qr.SolveTo(&f.pinv, false, mat.NewDiagDense(window, ones)); err != nil {
		return nil, fmt.Errorf("fitting window %d with order %d: %w", window, order, err)
	}
	return f, nil
}

func (f *polyFit) abscissa(j int) float64 {
	half := float64(f.window-1) / 2
	return (float64(j) - half) / math.Max(half, 1)
}

// weights returns w such that floats.Dot(w, y) is the fitted polynomial
// through y[0..window) evaluated at index pos.
func (f *polyFit) weights(pos int) []float64 {
	at := f.abscissa(pos)
	powers := make([]float64, f.order+1)
	p := 1.0
	for k := range powers {
		powers[k] = p
		p *= at
	}

	var w mat.VecDense
	w.MulVec(f.pinv.T(), mat.NewVecDense(len(powers), powers))
	return mat.Col(nil, 0, &w)
}

package dspflow

/*------------------------------------------------------------------
 *
 * Purpose:	Standalone numeric helpers (spec.md §6): calculate-PCA,
 *		calculate-whitening, calculate-ICA, calculate-beamformer-
 *		weights and calculate-common-spatial-patterns. The PCA,
 *		whitening, ICA and CSP helpers train a (mean, matrix) pair
 *		from supplied sample buffers, which the matrix-transform
 *		stages in stage_matrix.go apply; the beamformer helper
 *		returns a weight vector. dot/sum/sum-of-squares/detrend/autocorrelation/
 *		cross-correlation are already exported package-level
 *		functions in kernels.go and need no re-export here.
 *
 * Grounded on other_examples/manifests/emer-auditory's use of
 * gonum.org/v1/gonum/mat for exactly this class of problem
 * (covariance/eigendecomposition over multichannel auditory
 * features); none of the teacher's own dependencies cover linear
 * algebra, so this is the one dependency this module adds beyond the
 * teacher's go.mod (see DESIGN.md).
 *
 *----------------------------------------------------------------*/

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// covarianceMatrix computes the per-channel mean and the (channels x
// channels) sample covariance of flat interleaved data ([]float64, frame-
// major like SampleBlock but float64).
func covarianceMatrix(flat []float64, channels, frames int) ([]float64, *mat.SymDense) {
	mean := make([]float64, channels)
	for f := 0; f < frames; f++ {
		for c := 0; c < channels; c++ {
			mean[c] += flat[f*channels+c]
		}
	}
	for c := range mean {
		mean[c] /= float64(frames)
	}

	cov := mat.NewSymDense(channels, nil)
	for a := 0; a < channels; a++ {
		for b := a; b < channels; b++ {
			var acc float64
			for f := 0; f < frames; f++ {
				da := flat[f*channels+a] - mean[a]
				db := flat[f*channels+b] - mean[b]
				acc += da * db
			}
			if frames > 1 {
				acc /= float64(frames - 1)
			}
			cov.SetSym(a, b, acc)
		}
	}
	return mean, cov
}

// sortedEigen returns the eigenvectors of sym as columns of a Dense
// (channels x channels), sorted by descending eigenvalue, alongside the
// sorted eigenvalues.
func sortedEigen(sym *mat.SymDense) ([]float64, *mat.Dense) {
	var eig mat.EigenSym
	eig.Factorize(sym, true)
	values := eig.Values(nil)
	var vectors mat.Dense
	eig.VectorsTo(&vectors)

	n := len(values)
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(i, j int) bool { return values[order[i]] > values[order[j]] })

	sortedVals := make([]float64, n)
	sortedVecs := mat.NewDense(n, n, nil)
	for newCol, oldCol := range order {
		sortedVals[newCol] = values[oldCol]
		for row := 0; row < n; row++ {
			sortedVecs.Set(row, newCol, vectors.At(row, oldCol))
		}
	}
	return sortedVals, sortedVecs
}

// flattenColumnMajor takes the first numCols columns of m (channels x
// numCols), the transpose of the (numCols x channels) matrix W that
// stage_matrix.go applies, and returns W in column-major order: W(p, c) =
// m(c, p) sits at index c*numCols+p, matching stage_matrix.go's
// construction contract (matrix.length == numChannels*numComponents).
func flattenColumnMajor(m *mat.Dense, numCols int) []float64 {
	rows, _ := m.Dims()
	out := make([]float64, rows*numCols)
	for c := 0; c < numCols; c++ {
		for r := 0; r < rows; r++ {
			out[r*numCols+c] = m.At(r, c)
		}
	}
	return out
}

// CalculatePCA trains a PCA projection from flat interleaved training
// data: mean (length channels) and the (numComponents x channels)
// projection matrix W in column-major order, whose rows are the top
// numComponents eigenvectors of the sample covariance by descending
// eigenvalue.
func CalculatePCA(flat []float64, channels, frames, numComponents int) (mean []float64, matrix []float64, err error) {
	if numComponents <= 0 || numComponents > channels {
		return nil, nil, &InvalidParameterError{Field: "numComponents", Reason: "must be in [1, channels]"}
	}
	if frames < 2 {
		return nil, nil, &InvalidParameterError{Field: "frames", Reason: "need at least 2 samples to estimate covariance"}
	}
	mean, cov := covarianceMatrix(flat, channels, frames)
	_, vectors := sortedEigen(cov)
	return mean, flattenColumnMajor(vectors, numComponents), nil
}

// CalculateWhitening trains a whitening transform: mean (length channels)
// and the (numComponents x channels) matrix W, in column-major order, such that
// W*(x-mean) has approximately unit covariance. numComponents may equal
// channels (full whitening) or less (whitening combined with dimension
// reduction).
func CalculateWhitening(flat []float64, channels, frames, numComponents int) (mean []float64, matrix []float64, err error) {
	if numComponents <= 0 || numComponents > channels {
		return nil, nil, &InvalidParameterError{Field: "numComponents", Reason: "must be in [1, channels]"}
	}
	if frames < 2 {
		return nil, nil, &InvalidParameterError{Field: "frames", Reason: "need at least 2 samples to estimate covariance"}
	}
	mean, cov := covarianceMatrix(flat, channels, frames)
	values, vectors := sortedEigen(cov)

	w := mat.NewDense(numComponents, channels, nil)
	for comp := 0; comp < numComponents; comp++ {
		scale := 1.0 / math.Sqrt(math.Max(values[comp], 1e-12))
		for c := 0; c < channels; c++ {
			w.Set(comp, c, scale*vectors.At(c, comp))
		}
	}
	// Transpose to (channels x numComponents); flattenColumnMajor turns it
	// back into W in the column-major layout the stage constructor expects.
	wT := mat.NewDense(channels, numComponents, nil)
	wT.CloneFrom(w.T())
	return mean, flattenColumnMajor(wT, numComponents), nil
}

// logcoshICA runs single-unit deflationary FastICA with the logcosh
// nonlinearity g(u) = tanh(u), g'(u) = 1 - tanh(u)^2, the standard choice
// for leptokurtic sources (Hyvarinen & Oja). whitened is (numComponents x
// frames), rows already zero-mean/unit-variance/decorrelated. Returns the
// numComponents x numComponents unmixing matrix.
func logcoshICA(whitened *mat.Dense, maxIter int) *mat.Dense {
	p, n := whitened.Dims()
	u := mat.NewDense(p, p, nil)

	for comp := 0; comp < p; comp++ {
		w := make([]float64, p)
		w[comp] = 1
		for iter := 0; iter < maxIter; iter++ {
			// Decorrelate against previously extracted components
			// (Gram-Schmidt deflation).
			for prev := 0; prev < comp; prev++ {
				var dot float64
				for k := 0; k < p; k++ {
					dot += w[k] * u.At(prev, k)
				}
				for k := 0; k < p; k++ {
					w[k] -= dot * u.At(prev, k)
				}
			}
			norm := vecNorm(w)
			if norm > 1e-12 {
				for k := range w {
					w[k] /= norm
				}
			}

			wNew := make([]float64, p)
			var gPrimeMean float64
			for s := 0; s < n; s++ {
				var proj float64
				for k := 0; k < p; k++ {
					proj += w[k] * whitened.At(k, s)
				}
				g := math.Tanh(proj)
				gPrime := 1 - g*g
				for k := 0; k < p; k++ {
					wNew[k] += whitened.At(k, s) * g
				}
				gPrimeMean += gPrime
			}
			for k := range wNew {
				wNew[k] = wNew[k]/float64(n) - (gPrimeMean/float64(n))*w[k]
			}
			for prev := 0; prev < comp; prev++ {
				var dot float64
				for k := 0; k < p; k++ {
					dot += wNew[k] * u.At(prev, k)
				}
				for k := 0; k < p; k++ {
					wNew[k] -= dot * u.At(prev, k)
				}
			}
			norm = vecNorm(wNew)
			if norm > 1e-12 {
				for k := range wNew {
					wNew[k] /= norm
				}
			}
			w = wNew
		}
		for k := 0; k < p; k++ {
			u.Set(comp, k, w[k])
		}
	}
	return u
}

func vecNorm(v []float64) float64 {
	var acc float64
	for _, x := range v {
		acc += x * x
	}
	return math.Sqrt(acc)
}

const icaDefaultIterations = 200

// CalculateICA trains an independent-component unmixing transform: mean
// (length channels) and the (numComponents x channels) unmixing matrix in
// column-major order. Internally whitens to numComponents dimensions, then runs deflationary
// FastICA with the logcosh nonlinearity on the whitened data.
func CalculateICA(flat []float64, channels, frames, numComponents int) (mean []float64, matrix []float64, err error) {
	if numComponents <= 0 || numComponents > channels {
		return nil, nil, &InvalidParameterError{Field: "numComponents", Reason: "must be in [1, channels]"}
	}
	if frames < 2 {
		return nil, nil, &InvalidParameterError{Field: "frames", Reason: "need at least 2 samples"}
	}
	mean, cov := covarianceMatrix(flat, channels, frames)
	values, vectors := sortedEigen(cov)

	whiteningW := mat.NewDense(numComponents, channels, nil)
	for comp := 0; comp < numComponents; comp++ {
		scale := 1.0 / math.Sqrt(math.Max(values[comp], 1e-12))
		for c := 0; c < channels; c++ {
			whiteningW.Set(comp, c, scale*vectors.At(c, comp))
		}
	}

	whitened := mat.NewDense(numComponents, frames, nil)
	x := mat.NewVecDense(channels, nil)
	var y mat.VecDense
	for f := 0; f < frames; f++ {
		for c := 0; c < channels; c++ {
			x.SetVec(c, flat[f*channels+c]-mean[c])
		}
		y.MulVec(whiteningW, x)
		for comp := 0; comp < numComponents; comp++ {
			whitened.Set(comp, f, y.AtVec(comp))
		}
	}

	unmixing := logcoshICA(whitened, icaDefaultIterations)

	var total mat.Dense
	total.Mul(unmixing, whiteningW) // numComponents x channels

	totalT := mat.NewDense(channels, numComponents, nil)
	totalT.CloneFrom(total.T())
	return mean, flattenColumnMajor(totalT, numComponents), nil
}

// CalculateBeamformerWeights solves the minimum-variance-distortionless-
// response weight vector w = R^-1 s / (s^T R^-1 s) given a steering
// vector s and a (channels x channels) noise covariance R (row-major
// flat), the standard narrowband MVDR beamformer.
func CalculateBeamformerWeights(steering []float64, covarianceFlat []float64, channels int) ([]float64, error) {
	if len(steering) != channels {
		return nil, &InvalidParameterError{Field: "steering", Reason: "length must equal channels"}
	}
	if len(covarianceFlat) != channels*channels {
		return nil, &InvalidParameterError{Field: "covariance", Reason: "length must equal channels*channels"}
	}
	r := mat.NewDense(channels, channels, covarianceFlat)
	s := mat.NewVecDense(channels, steering)

	var z mat.VecDense
	if err := z.SolveVec(r, s); err != nil {
		return nil, &KernelFailureError{Detail: "beamformer covariance is singular: " + err.Error()}
	}
	denom := mat.Dot(s, &z)
	if denom == 0 {
		return nil, &KernelFailureError{Detail: "beamformer normalization denominator is zero"}
	}
	weights := make([]float64, channels)
	for i := 0; i < channels; i++ {
		weights[i] = z.AtVec(i) / denom
	}
	return weights, nil
}

// CalculateCommonSpatialPatterns solves the generalized eigenvalue
// problem C1 v = lambda (C1+C2) v via a Cholesky-based symmetric
// reduction, then selects numFilters spatial filters split evenly between
// the largest eigenvalues (class-1-dominant) and the smallest
// (class-2-dominant), the standard CSP filter-selection rule. Returns a
// zero mean vector (CSP apply does not center; the shared matrix-apply
// contract still requires one) and the (numFilters x channels) filter
// matrix in column-major order.
func CalculateCommonSpatialPatterns(class1Flat, class2Flat []float64, channels, frames1, frames2, numFilters int) (mean []float64, matrix []float64, err error) {
	if numFilters <= 0 || numFilters > channels {
		return nil, nil, &InvalidParameterError{Field: "numFilters", Reason: "must be in [1, channels]"}
	}
	_, c1 := covarianceMatrix(class1Flat, channels, frames1)
	_, c2 := covarianceMatrix(class2Flat, channels, frames2)

	composite := mat.NewSymDense(channels, nil)
	for a := 0; a < channels; a++ {
		for b := a; b < channels; b++ {
			composite.SetSym(a, b, c1.At(a, b)+c2.At(a, b))
		}
	}

	var chol mat.Cholesky
	if ok := chol.Factorize(composite); !ok {
		return nil, nil, &KernelFailureError{Detail: "composite covariance is not positive definite"}
	}
	var l mat.TriDense
	chol.LTo(&l)

	// S = L^-1 * C1 * L^-T, symmetric similarity transform of C1.
	var lInvC1 mat.Dense
	if err := lInvC1.Solve(&l, c1); err != nil {
		return nil, nil, &KernelFailureError{Detail: "CSP reduction failed: " + err.Error()}
	}
	// S = L^-1 * C1 * L^-T; since S is symmetric, S = L^-1 * (L^-1*C1)^T,
	// so one more triangular solve (against L, not L^T) recovers it.
	var sFull mat.Dense
	if err := sFull.Solve(&l, lInvC1.T()); err != nil {
		return nil, nil, &KernelFailureError{Detail: "CSP reduction failed: " + err.Error()}
	}

	sSym := mat.NewSymDense(channels, nil)
	for a := 0; a < channels; a++ {
		for b := a; b < channels; b++ {
			sSym.SetSym(a, b, (sFull.At(a, b)+sFull.At(b, a))/2)
		}
	}
	values, vectors := sortedEigen(sSym)

	// Map the generalized eigenvectors back through L^-T.
	var filtersAll mat.Dense
	filtersAll.Solve(l.T(), vectors)

	picked := mat.NewDense(channels, numFilters, nil)
	half := numFilters / 2
	n := len(values)
	for i := 0; i < half; i++ { // largest eigenvalues (class-1-dominant)
		for c := 0; c < channels; c++ {
			picked.Set(c, i, filtersAll.At(c, i))
		}
	}
	for i := 0; i < numFilters-half; i++ { // smallest eigenvalues (class-2-dominant)
		srcCol := n - 1 - i
		for c := 0; c < channels; c++ {
			picked.Set(c, half+i, filtersAll.At(c, srcCol))
		}
	}

	return make([]float64, channels), flattenColumnMajor(picked, numFilters), nil
}

// internal/rating/glicko2.go
package rating

import "math"

const (
	// GlickoScale is the multiplier used for converting between Elo and Glicko2's mu.
	GlickoScale = 173.7178
	// DefaultMu is the baseline rating (1500) in Glicko2 terms.
	DefaultMu = 1500.0
	// DefaultPhi is the baseline rating deviation (RD) in Glicko2 terms (350).
	DefaultPhi = 350.0
	// DefaultSigma is the starting volatility for a player with no history.
	DefaultSigma = 0.06
)

// Glicko2Rating holds the transformed rating (Mu), rating deviation (Phi),
// and volatility (Sigma) for a single user in Glicko2 space.
type Glicko2Rating struct {
	Mu    float64
	Phi   float64
	Sigma float64
}

// NewGlicko2Rating creates a new Glicko2Rating from a standard Elo, rating deviation, and volatility.
func NewGlicko2Rating(elo, rd, sigma float64) Glicko2Rating {
	return Glicko2Rating{
		Mu:    (elo - DefaultMu) / GlickoScale,
		Phi:   rd / GlickoScale,
		Sigma: sigma,
	}
}

// ExpectedScore is the probability that a player with MMR a beats one with MMR b. Both sides
// are treated as having the default deviation since the queue only carries a single number.
func ExpectedScore(a, b int) float64 {
	ra := NewGlicko2Rating(float64(a), DefaultPhi, DefaultSigma)
	rb := NewGlicko2Rating(float64(b), DefaultPhi, DefaultSigma)
	return E(ra.Mu, rb.Mu, rb.Phi)
}

// MatchQuality is 1 for a perfectly even pairing and approaches 0 as one side becomes a
// certain winner.
func MatchQuality(a, b int) float64 {
	return 1 - 2*math.Abs(ExpectedScore(a, b)-0.5)
}

// g is the G(phi) factor from Glicko2, applying the standard formula 1/sqrt(1+3phi^2/pi^2).
func g(phi float64) float64 {
	return 1.0 / math.Sqrt(1.0+3.0*phi*phi/math.Pi/math.Pi)
}

// E is the expected score formula in Glicko2 space, E(mu,mu2,phi2)=1/(1+exp[-g(phi2)*(mu-mu2)])
func E(mu, mu2, phi2 float64) float64 {
	return 1.0 / (1.0 + math.Exp(-g(phi2)*(mu-mu2)))
}

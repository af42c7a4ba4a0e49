package expr

// minUniform keeps LN away from zero.
const minUniform = 1e-16

func uniform() Expr {
	return Call(FnGreatest, Call(FnRandom), Lit(minUniform))
}

// LaplaceNoise draws from Laplace(0, scale) as the difference of two
// exponential draws.
func LaplaceNoise(scale float64) Expr {
	return Call(FnMultiply, Lit(scale), Call(FnMinus, Call(FnLn, uniform()), Call(FnLn, uniform())))
}

// GaussianNoise draws from N(0, sigma^2) with the Box-Muller transform.
func GaussianNoise(sigma float64) Expr {
	radius := Call(FnSqrt, Call(FnMultiply, Lit(-2.0), Call(FnLn, uniform())))
	angle := Call(FnMultiply, Call(FnMultiply, Lit(2.0), Call(FnPi)), Call(FnRandom))
	return Call(FnMultiply, Lit(sigma), Call(FnMultiply, radius, Call(FnCos, angle)))
}

// Clamp bounds e to [lo, hi].
func Clamp(e Expr, lo, hi float64) Expr {
	return Call(FnLeast, Call(FnGreatest, e, Lit(lo)), Lit(hi))
}

// RoundToInteger casts a float expression back to an integer column.
func RoundToInteger(e Expr) Expr {
	return Cast(Call(FnRound, e), TypeInteger)
}

package model

import "math"

// ToPaise converts a rupee amount from the API boundary into paise.
func ToPaise(rupees float64) int64 {
	return int64(math.Round(rupees * 100))
}

// ToRupees converts paise back to rupees for API responses.
func ToRupees(paise int64) float64 {
	return float64(paise) / 100.0
}

package logger

// RedactPlate masks a vehicle license plate for safe logging.
// "ABC1D23" → "ABC****"
// Values shorter than 3 characters are fully masked.
func RedactPlate(plate string) string {
	if len(plate) < 3 {
		return "*******"
	}
	return plate[:3] + "****"
}

package detect

const fallbackMessage = "Detection completed."

var messages = map[string]string{
	"Scratch": "Visible paint abrasion consistent with a surface scratch.",
	"Dent":    "Deformation detected likely caused by an impact.",
	"None":    "No obvious visual damage detected in the provided image.",
}

// Response is the body of a successful detection.
type Response struct {
	DamageType string  `json:"damageType"`
	Location   string  `json:"location"`
	Confidence float64 `json:"confidence"`
	Message    string  `json:"message"`
}

// Message returns the explanation for an exact label match.
func Message(label string) string {
	if msg, ok := messages[label]; ok {
		return msg
	}
	return fallbackMessage
}

func Compose(c Classification, location string) Response {
	return Response{
		DamageType: c.Label,
		Location:   location,
		Confidence: c.Confidence,
		Message:    Message(c.Label),
	}
}

package model

// ClassificationResult is the validated outcome of classifying one message.
type ClassificationResult struct {
	// Folder is the predicted folder. After fallback resolution it is
	// always a member of the known folder set, never raw model output.
	Folder string `json:"folder"`

	// Labels holds zero or more secondary labels from the model.
	Labels []string `json:"labels,omitempty"`

	// Confidence is the model's confidence in [0,1]. It is reported as 0
	// when the predicted folder was replaced by fallback resolution.
	Confidence float64 `json:"confidence"`
}

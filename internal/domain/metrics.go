package domain

// CDRMetrics are per-destination statistics derived from the calls in a window.
type CDRMetrics struct {
	BNumber  string `json:"bNumber"`
	Attempts int    `json:"attempts"`
	Answered int    `json:"answered"`

	// AnswerSeizureRatio is answered/attempts as a percentage in [0,100].
	AnswerSeizureRatio float64 `json:"asr"`
	// AverageLengthOfCall is the mean answered duration in seconds.
	AverageLengthOfCall float64 `json:"aloc"`
	// OverlapRatio is peak concurrent calls over distinct callers, in [0,1].
	OverlapRatio      float64 `json:"overlapRatio"`
	ConcurrentCallers int     `json:"concurrentCallers"`
	DistinctCallers   int     `json:"distinctCallers"`

	CallRate       float64 `json:"callRate"` // calls per minute
	ShortCallRatio float64 `json:"shortCallRatio"`
	HighVolume     bool    `json:"highVolume"`

	// Degraded is set when a backend could not contribute.
	Degraded bool `json:"degraded,omitempty"`
}

// PredictionResult is the inference verdict for one destination.
type PredictionResult struct {
	IsMasking   bool       `json:"isMasking"`
	Probability FraudScore `json:"probability"`
	Confidence  RiskLevel  `json:"confidence"`
	Method      string     `json:"method"`
	Features    []float64  `json:"features,omitempty"`
}

package models

import "fmt"

// AdvisoryKind classifies a non-fatal condition reported during analysis
type AdvisoryKind int

const (
	// DataSparsity means a channel had no spots where some were expected
	DataSparsity AdvisoryKind = iota
	// FitFailure means a distribution fit did not produce a result
	FitFailure
	// BootstrapAborted means bootstrap resampling hit its error budget
	BootstrapAborted
	// NoPairs means a dataset yielded no tracks at all
	NoPairs
	// IgnoredSpot means a spot lies outside the declared channel or frame range
	IgnoredSpot
	// InternalConsistency means an invariant the analysis relies on was violated
	InternalConsistency
)

var advisoryNames = map[AdvisoryKind]string{
	DataSparsity:        "data-sparsity",
	FitFailure:          "fit-failure",
	BootstrapAborted:    "bootstrap-aborted",
	NoPairs:             "no-pairs",
	IgnoredSpot:         "ignored-spot",
	InternalConsistency: "internal-consistency",
}

func (k AdvisoryKind) String() string {
	if name, ok := advisoryNames[k]; ok {
		return name
	}
	return fmt.Sprintf("advisory(%d)", int(k))
}

// Advisory is a non-fatal condition. Processing continues after one is raised.
type Advisory struct {
	Kind      AdvisoryKind
	DatasetID int
	Position  int
	Frame     int
	Channel   int
	Message   string
}

func (a Advisory) String() string {
	return fmt.Sprintf("%s: %s", a.Kind, a.Message)
}

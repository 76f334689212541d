package pyramid

// ImageInfo carries the source image geometry plus the study metadata
// surfaced by the scan ingestion pipeline. Only Width, Height, and SizeBytes
// participate in pyramid construction; the rest travels with the model so
// consumers (viewer facade, preload ordering) do not need a second lookup.
type ImageInfo struct {
	Width     int
	Height    int
	SizeBytes int64

	// Study metadata, optional.
	PatientID         string
	Modality          string
	StudyDescription  string
	SeriesDescription string

	// Slice geometry for multi-slice series. SliceNumber orders images
	// within a series and drives neighbor prediction during navigation.
	SliceNumber int
	TotalSlices int
	MultiSlice  bool
}

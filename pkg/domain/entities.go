// Package domain defines the core biodb entities, value types and error
// kinds shared by the persistence, ingestion and view layers.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// EntityType identifies a persisted entity kind.
type EntityType string

// Supported entity type identifiers used in Change records, errors and metrics.
const (
	EntityCenter          EntityType = "center"
	EntityPatient         EntityType = "patient"
	EntityVisit           EntityType = "visit"
	EntityBioSample       EntityType = "biosample"
	EntityBioSampleType   EntityType = "biosample_type"
	EntityMeasurementType EntityType = "measurement_type"
	EntityInstrument      EntityType = "instrument"
	EntityArrayData       EntityType = "array_data"
	EntityObservable      EntityType = "observable"
	EntityObservation     EntityType = "observation"
	EntityQCAnnotator     EntityType = "qc_annotator"
	EntityQCAnnotation    EntityType = "qc_annotation"
)

// Dated contains the server-assigned timestamps every record carries.
type Dated struct {
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Center is an organizational tenant. The same ID must denote the same
// center in every store it is replicated to.
type Center struct {
	Dated
	ID      uuid.UUID `json:"id"`
	Name    string    `json:"name"`
	Country string    `json:"country"`
}

// Patient is a study participant owned by exactly one center.
type Patient struct {
	Dated
	ID       uuid.UUID `json:"patient_id"`
	CID      *string   `json:"patient_cid,omitempty"`
	CenterID uuid.UUID `json:"center_id"`
}

// Visit is one encounter of a patient. PreviousVisitID links visits of the
// same patient into an acyclic chain.
type Visit struct {
	Dated
	ID              int64     `json:"id"`
	PatientID       uuid.UUID `json:"patient_id"`
	PreviousVisitID *int64    `json:"previous_visit_id,omitempty"`
}

// BioSampleType names a kind of biological sample (e.g. "pharyngeal swab").
type BioSampleType struct {
	Dated
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// BioSample is a physical sample collected during a visit.
type BioSample struct {
	Dated
	ID                   int64    `json:"id"`
	VisitID              int64    `json:"visit_id"`
	SampleTypeID         int64    `json:"sample_type_id"`
	SampleProcessing     *string  `json:"sample_processing,omitempty"`
	SampleExtraction     *string  `json:"sample_extraction,omitempty"`
	SampleExtractionTube *string  `json:"sample_extraction_tube,omitempty"`
	FreezingTemp         *float64 `json:"freezing_temp,omitempty"`
	ThawingTime          *int64   `json:"thawing_time,omitempty"`
	CentrifugeTime       *int64   `json:"centrifuge_time,omitempty"`
	CentrifugeRPM        *int64   `json:"centrifuge_rpm,omitempty"`
}

// MeasurementType names a spectroscopy technique (e.g. "ATR-FTIR").
type MeasurementType struct {
	Dated
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Instrument is an admin-managed acquisition device. Bulk uploads only
// reference instruments, they never create them.
type Instrument struct {
	Dated
	ID           uuid.UUID  `json:"id"`
	CID          string     `json:"cid"`
	Manufacturer string     `json:"manufacturer"`
	Model        string     `json:"model"`
	SerialNumber string     `json:"serial_number"`
	CenterID     *uuid.UUID `json:"center_id,omitempty"`
}

// ArrayData is one measurement record whose numeric payload lives in an
// externally stored artifact referenced by DataKey.
type ArrayData struct {
	Dated
	ID                int64      `json:"id"`
	BioSampleID       int64      `json:"bio_sample_id"`
	InstrumentID      uuid.UUID  `json:"instrument_id"`
	MeasurementTypeID int64      `json:"measurement_type_id"`
	AcquisitionTime   *int64     `json:"acquisition_time,omitempty"`
	NCoadditions      *int64     `json:"n_coadditions,omitempty"`
	Resolution        *int64     `json:"resolution,omitempty"`
	Power             *float64   `json:"power,omitempty"`
	Temperature       *float64   `json:"temperature,omitempty"`
	Pressure          *float64   `json:"pressure,omitempty"`
	Humidity          *float64   `json:"humidity,omitempty"`
	DateMeasured      *time.Time `json:"date_measured,omitempty"`
	DataKey           string     `json:"data_key"`
}

// Observable defines a measurable attribute. An empty CenterIDs set makes
// the observable global (visible to every center).
type Observable struct {
	Dated
	ID           int64       `json:"id"`
	Name         string      `json:"name"`
	Alias        string      `json:"alias"`
	Category     Category    `json:"category"`
	ValueType    ValueType   `json:"value_type"`
	Description  string      `json:"description,omitempty"`
	Choices      []string    `json:"choices,omitempty"`
	ValidatorKey *string     `json:"validator_key,omitempty"`
	CenterIDs    []uuid.UUID `json:"center_ids,omitempty"`
}

// VisibleTo reports whether the observable may be recorded for patients of center.
func (o Observable) VisibleTo(center uuid.UUID) bool {
	if len(o.CenterIDs) == 0 {
		return true
	}
	for _, id := range o.CenterIDs {
		if id == center {
			return true
		}
	}
	return false
}

// Observation is one visit's value of one observable, stored in canonical text form.
type Observation struct {
	Dated
	ID           int64  `json:"id"`
	VisitID      int64  `json:"visit_id"`
	ObservableID int64  `json:"observable_id"`
	Value        string `json:"value"`
}

// QCAnnotator declares a registered quality-control implementation by key.
type QCAnnotator struct {
	Dated
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Key       string    `json:"key"`
	ValueType ValueType `json:"value_type"`
	Default   bool      `json:"default"`
}

// QCAnnotation is the memoized result of one annotator on one ArrayData record.
type QCAnnotation struct {
	Dated
	ID          int64  `json:"id"`
	AnnotatorID int64  `json:"annotator_id"`
	ArrayDataID int64  `json:"array_data_id"`
	Value       string `json:"value"`
}

// Change captures a single pending write evaluated by validation rules.
type Change struct {
	Entity EntityType
	Action Action
	Before any
	After  any
}

// Action indicates the type of modification performed.
type Action string

// Change actions enumerate supported write operations.
const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

package models

import "time"

// RecordType identifies one of the health-record collections.
type RecordType string

const (
	RecordMeal      RecordType = "meal"
	RecordLabResult RecordType = "lab_result"
	RecordSymptom   RecordType = "symptom"
)

// RecordTypes lists every supported record type.
var RecordTypes = []RecordType{RecordMeal, RecordLabResult, RecordSymptom}

// HealthRecord is a single logged health entry. Which fields are populated
// depends on Type: meals carry Description and MealType, lab results carry
// TestType and Results, symptoms carry Description, Severity and Duration.
type HealthRecord struct {
	ID          string            `bson:"_id" json:"id"`
	UserID      string            `bson:"user_id" json:"userId"`
	Type        RecordType        `bson:"-" json:"type"`
	Description string            `bson:"description,omitempty" json:"description,omitempty"`
	MealType    string            `bson:"meal_type,omitempty" json:"mealType,omitempty"`
	TestType    string            `bson:"test_type,omitempty" json:"testType,omitempty"`
	Results     map[string]string `bson:"results,omitempty" json:"results,omitempty"`
	Severity    int               `bson:"severity,omitempty" json:"severity,omitempty"`
	Duration    string            `bson:"duration,omitempty" json:"duration,omitempty"`
	RecordedAt  time.Time         `bson:"recorded_at" json:"recordedAt"`
}

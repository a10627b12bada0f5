package plan

import "time"

// EventType enumerates structured plan events.
type EventType string

const (
	RunStarted   EventType = "RUN_STARTED"
	RunCompleted EventType = "RUN_COMPLETED"
	LevelStarted EventType = "LEVEL_STARTED"
	StepChanged  EventType = "STEP_STATUS"
	GraphUpdated EventType = "PERSISTENT_GRAPH_UPDATED"
)

type Event struct {
	Time        time.Time
	Type        EventType
	Description string
	Step        string
	Action      string
	Status      Status
	Level       int
	// Duration is set on terminal step events (time since first submission)
	// and on RunCompleted.
	Duration time.Duration
	Message  string
}

type Observer interface {
	ObserveEvent(Event)
}

type ObserverFunc func(Event)

func (f ObserverFunc) ObserveEvent(ev Event) {
	if f == nil {
		return
	}
	f(ev)
}

// Observers fans an event out to several observers.
type Observers []Observer

func (o Observers) ObserveEvent(ev Event) {
	for _, obs := range o {
		if obs != nil {
			obs.ObserveEvent(ev)
		}
	}
}

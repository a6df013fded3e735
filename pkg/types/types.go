// Package types holds the payloads served by the OdooNova status API.
package types

import "time"

// ClusterSummary is one row of the cluster list.
type ClusterSummary struct {
	Name               string    `json:"name"`
	Namespace          string    `json:"namespace"`
	Phase              string    `json:"phase"`
	Generation         int64     `json:"generation"`
	ObservedGeneration int64     `json:"observedGeneration"`
	Ready              bool      `json:"ready"`
	Deleting           bool      `json:"deleting,omitempty"`
	Endpoints          []string  `json:"endpoints,omitempty"`
	CreatedAt          time.Time `json:"createdAt"`
}

// Condition mirrors a status condition of a cluster.
type Condition struct {
	Type               string    `json:"type"`
	Status             string    `json:"status"`
	Reason             string    `json:"reason,omitempty"`
	Message            string    `json:"message,omitempty"`
	LastTransitionTime time.Time `json:"lastTransitionTime"`
}

// ChildRef names one object owned by a cluster.
type ChildRef struct {
	APIVersion string `json:"apiVersion"`
	Kind       string `json:"kind"`
	Namespace  string `json:"namespace,omitempty"`
	Name       string `json:"name"`
}

// Database is the connection information published in status.
type Database struct {
	Host       string `json:"host,omitempty"`
	SecretName string `json:"secretName,omitempty"`
	Ready      bool   `json:"ready"`
}

// ClusterDetail is the full view of one cluster.
type ClusterDetail struct {
	ClusterSummary
	Conditions []Condition `json:"conditions,omitempty"`
	Children   []ChildRef  `json:"children,omitempty"`
	Database   Database    `json:"database"`
}

// PhaseTransition is one entry of a cluster's phase history.
type PhaseTransition struct {
	ID         string    `json:"id"`
	Generation int64     `json:"generation"`
	Previous   string    `json:"previous,omitempty"`
	Phase      string    `json:"phase"`
	Reason     string    `json:"reason,omitempty"`
	Message    string    `json:"message,omitempty"`
	At         time.Time `json:"at"`
}

// LifecycleEvent is one published lifecycle event.
type LifecycleEvent struct {
	ID       string    `json:"id"`
	Time     time.Time `json:"ts"`
	Type     string    `json:"type"`
	Phase    string    `json:"phase,omitempty"`
	Previous string    `json:"previous,omitempty"`
	Reason   string    `json:"reason,omitempty"`
	Message  string    `json:"message,omitempty"`
}

// Error is the error payload of every non 2xx response.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

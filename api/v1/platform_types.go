/*


Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package v1

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// NOTE: json tags are required.  Any new fields you add must have json tags for the fields to be serialized.

// OperatingPointSpec is one row of a cluster operating point table
type OperatingPointSpec struct {
	// Clock frequency in kHz
	// +kubebuilder:validation:Minimum=1
	FrequencyKHz uint32 `json:"frequencyKHz"`

	// Core voltage required at this frequency, in 10 microvolt units
	VoltageUnits uint32 `json:"voltageUnits"`

	// Divider applied after the PLL, selected while running from the reference clock
	// +kubebuilder:default=1
	PostDivider uint32 `json:"postDivider,omitempty"`

	// Divider applied to the cluster clock
	// +kubebuilder:default=1
	ClockDivider uint32 `json:"clockDivider,omitempty"`
}

// ClusterSpec describes one CPU cluster or the companion interconnect
type ClusterSpec struct {
	// Name of the cluster
	ID string `json:"id"`

	// Either independent or companion
	// +kubebuilder:validation:Enum=independent;companion
	// +kubebuilder:default=independent
	Role string `json:"role,omitempty"`

	// Clusters whose frequencies drive the companion
	Feeders []string `json:"feeders,omitempty"`

	// Clusters naming the same rail domain share one regulator pair
	RailDomain string `json:"railDomain,omitempty"`

	// CPUs belonging to the cluster, in cpuset list format such as "0-3,8"
	CPUs string `json:"cpus,omitempty"`

	// Operating points ordered from the fastest to the slowest
	//+kubebuilder:validation:MinItems=1
	OperatingPoints []OperatingPointSpec `json:"operatingPoints"`

	// Fastest index usable while turbo is disabled
	// +kubebuilder:validation:Minimum=0
	NormalMaxIndex int `json:"normalMaxIndex,omitempty"`

	// Whether indices faster than normalMaxIndex may be selected
	Turbo bool `json:"turbo,omitempty"`

	// Index the companion is parked at while it is offline
	OfflineIndex int `json:"offlineIndex,omitempty"`

	// Cluster starts with every CPU offline
	Offline bool `json:"offline,omitempty"`

	// Cluster starts administratively disabled
	Disabled bool `json:"disabled,omitempty"`
}

// RailConstraintsSpec bounds the tracking rail relative to the core rail, in 10 microvolt units.
// Zero fields take the built-in defaults.
type RailConstraintsSpec struct {
	NormalMargin uint32 `json:"normalMargin,omitempty"`
	MaxDelta     uint32 `json:"maxDelta,omitempty"`
	StepGuard    uint32 `json:"stepGuard,omitempty"`
	MinTracking  uint32 `json:"minTracking,omitempty"`
	MaxTracking  uint32 `json:"maxTracking,omitempty"`
}

// SettleTimingSpec describes regulator slew rates, in 10 microvolt units per microsecond
type SettleTimingSpec struct {
	CoreSlewUnitsPerMicro     uint32 `json:"coreSlewUnitsPerMicro,omitempty"`
	TrackingRiseUnitsPerMicro uint32 `json:"trackingRiseUnitsPerMicro,omitempty"`
	TrackingFallUnitsPerMicro uint32 `json:"trackingFallUnitsPerMicro,omitempty"`
	CommandDelayMicros        uint32 `json:"commandDelayMicros,omitempty"`
	MinSettleMicros           uint32 `json:"minSettleMicros,omitempty"`
}

// ClockTimingSpec holds the clock tree settle waits
type ClockTimingSpec struct {
	// Wait after reprogramming the PLL before switching back to it
	//+kubebuilder:validation:Format=duration
	PLLSettle metav1.Duration `json:"pllSettle,omitempty"`

	// Wait after every divider write
	//+kubebuilder:validation:Format=duration
	DividerSettle metav1.Duration `json:"dividerSettle,omitempty"`
}

// PlatformSpec describes the clusters of a SoC and the rails that feed them
type PlatformSpec struct {
	// Name of the platform
	Name string `json:"name,omitempty"`

	Clusters []ClusterSpec       `json:"clusters"`
	Rails    RailConstraintsSpec `json:"rails,omitempty"`
	Settle   SettleTimingSpec    `json:"settle,omitempty"`
	Clock    ClockTimingSpec     `json:"clock,omitempty"`

	// Granularity of companion frequency targets in kHz
	// +kubebuilder:validation:Minimum=1
	CompanionStepKHz uint32 `json:"companionStepKHz"`

	// What a request does when no operating point satisfies it
	// +kubebuilder:validation:Enum=keep-current;nearest;reject
	SearchFallback string `json:"searchFallback,omitempty"`

	// Per cluster load driven scaling
	Scaling []ScalingItem `json:"scaling,omitempty"`
}

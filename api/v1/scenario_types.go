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
	"k8s.io/apimachinery/pkg/util/intstr"
)

// ClusterLimit restricts the operating points a cluster may use. Values are either an operating point
// index or a percentage of the frequency range such as "80%".
type ClusterLimit struct {
	Cluster string `json:"cluster"`

	// Slowest point allowed
	Min *intstr.IntOrString `json:"min,omitempty"`

	// Fastest point allowed
	Max *intstr.IntOrString `json:"max,omitempty"`

	// Pins the cluster to one point, overrides min and max
	Fixed *intstr.IntOrString `json:"fixed,omitempty"`

	// Turbo on or off, unchanged when omitted
	Turbo *bool `json:"turbo,omitempty"`
}

// FrequencyRequest asks for a cluster frequency
type FrequencyRequest struct {
	Cluster      string `json:"cluster"`
	FrequencyKHz uint32 `json:"frequencyKHz"`

	// +kubebuilder:validation:Enum=floor;ceiling
	// +kubebuilder:default=ceiling
	Relation string `json:"relation,omitempty"`
}

// ScenarioEvent is one step of a scenario. Exactly one action is set.
type ScenarioEvent struct {
	// Delay after the previous event
	//+kubebuilder:validation:Format=duration
	After metav1.Duration `json:"after,omitempty"`

	Request *FrequencyRequest `json:"request,omitempty"`

	// CPUs brought online or taken offline, in cpuset list format
	CPUsOnline  string `json:"cpusOnline,omitempty"`
	CPUsOffline string `json:"cpusOffline,omitempty"`

	// Limits replace the limits of every cluster they name
	Limits []ClusterLimit `json:"limits,omitempty"`
}

// ScenarioSpec is a timed sequence of requests, hot-plug events and limit changes replayed by the agent
type ScenarioSpec struct {
	Events []ScenarioEvent `json:"events"`
}

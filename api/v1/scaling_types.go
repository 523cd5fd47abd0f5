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

// LoadProfileSpec is the synthetic busyness pattern of a simulated cluster
type LoadProfileSpec struct {
	// Average busyness, in percents
	// +kubebuilder:validation:Minimum=0
	// +kubebuilder:validation:Maximum=100
	Base int `json:"base"`

	// Swing around the average, in percent points
	Amplitude int `json:"amplitude,omitempty"`

	//+kubebuilder:validation:Format=duration
	Period metav1.Duration `json:"period,omitempty"`

	//+kubebuilder:validation:Format=duration
	Phase metav1.Duration `json:"phase,omitempty"`
}

type ScalingItem struct {
	// Cluster that this item drives
	Cluster string `json:"cluster"`

	// Frequency to set when cluster busyness is not available, in percent of max frequency
	// +kubebuilder:validation:Minimum=0
	// +kubebuilder:validation:Maximum=100
	FallbackFreqPercent int `json:"fallbackFreqPercent"`

	// Minimum time to elapse between two cluster sample periods
	//+kubebuilder:validation:Format=duration
	SamplePeriod metav1.Duration `json:"samplePeriod"`

	// Time to elapse after setting a new frequency target before next sampling
	//+kubebuilder:validation:Format=duration
	CooldownPeriod metav1.Duration `json:"cooldownPeriod"`

	// Target cluster busyness, in percents
	// +kubebuilder:validation:Minimum=0
	// +kubebuilder:validation:Maximum=100
	TargetBusyness int `json:"targetBusyness"`

	// Maximum difference between target and actual busyness on which
	// frequency re-evaluation will not happen, in percent points
	// +kubebuilder:validation:Minimum=0
	// +kubebuilder:validation:Maximum=50
	AllowedBusynessDifference int `json:"allowedBusynessDifference"`

	// Maximum difference between target and actual frequency on which
	// frequency re-evaluation will not happen, in kHz
	// +kubebuilder:validation:Minimum=0
	AllowedFrequencyDifference int `json:"allowedFrequencyDifference,omitempty"`

	// Load pattern reported for the cluster by the simulated platform
	Load LoadProfileSpec `json:"load"`
}

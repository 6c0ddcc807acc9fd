// Package k8s applies fleet scaling decisions to the worker Deployment.
package k8s

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// Client scales the worker Deployment through the scale subresource.
type Client struct {
	clientset  kubernetes.Interface
	namespace  string
	deployment string
	log        *logrus.Entry
}

// NewClient builds a client from the local kubeconfig, falling back to the
// in-cluster service account when none is configured.
func NewClient(namespace, deployment string) (*Client, error) {
	config, err := buildConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to build kubernetes config: %w", err)
	}

	clientset, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes clientset: %w", err)
	}

	return NewClientWithClientset(clientset, namespace, deployment), nil
}

// NewClientWithClientset wires an existing clientset, used by tests with the
// fake clientset.
func NewClientWithClientset(clientset kubernetes.Interface, namespace, deployment string) *Client {
	return &Client{
		clientset:  clientset,
		namespace:  namespace,
		deployment: deployment,
		log:        logrus.WithField("component", "k8s"),
	}
}

func buildConfig() (*rest.Config, error) {
	kubeconfig := os.Getenv("KUBECONFIG")
	if kubeconfig == "" {
		if home, err := os.UserHomeDir(); err == nil {
			candidate := home + "/.kube/config"
			if _, err := os.Stat(candidate); err == nil {
				kubeconfig = candidate
			}
		}
	}

	if kubeconfig != "" {
		return clientcmd.BuildConfigFromFlags("", kubeconfig)
	}
	return rest.InClusterConfig()
}

// SetReplicas resizes the worker Deployment to n replicas.
func (c *Client) SetReplicas(ctx context.Context, n int) error {
	scale, err := c.clientset.AppsV1().Deployments(c.namespace).GetScale(ctx, c.deployment, metav1.GetOptions{})
	if err != nil {
		return fmt.Errorf("failed to read scale for deployment %s: %w", c.deployment, err)
	}

	scale.Spec.Replicas = int32(n)
	if _, err := c.clientset.AppsV1().Deployments(c.namespace).UpdateScale(ctx, c.deployment, scale, metav1.UpdateOptions{}); err != nil {
		return fmt.Errorf("failed to update scale for deployment %s: %w", c.deployment, err)
	}

	c.log.WithFields(logrus.Fields{
		"deployment": c.deployment,
		"replicas":   n,
	}).Info("Updated worker deployment scale")
	return nil
}

// Replicas reports the Deployment's current desired replica count.
func (c *Client) Replicas(ctx context.Context) (int, error) {
	scale, err := c.clientset.AppsV1().Deployments(c.namespace).GetScale(ctx, c.deployment, metav1.GetOptions{})
	if err != nil {
		return 0, fmt.Errorf("failed to read scale for deployment %s: %w", c.deployment, err)
	}
	return int(scale.Spec.Replicas), nil
}

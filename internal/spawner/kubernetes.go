package spawner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"sigs.k8s.io/yaml"

	"hub/pkg/logging"
)

// KubernetesConfig configures the pod-per-server backend.
type KubernetesConfig struct {
	Namespace string
	Image     string
	// Command is the container argv template, rendered per request.
	Command []string
	// Env is the environment template applied to the container.
	Env map[string]string
	// PodTemplate, when set, is a YAML corev1.Pod used as the base pod.
	// The backend stamps name, labels, image, command, port and env on
	// top of it, so operators can set node selectors, tolerations,
	// volumes and resources without the hub modeling each field.
	PodTemplate []byte
	// StartTimeout bounds the wait for a created pod to get an IP.
	StartTimeout time.Duration
	StopTimeout  time.Duration
}

// Kubernetes runs one pod per server.
type Kubernetes struct {
	cfg    KubernetesConfig
	client kubernetes.Interface
}

type kubeHandle struct {
	Namespace string `json:"namespace"`
	Pod       string `json:"pod"`
}

const managedByLabel = "hub.io/managed-by"

// NewKubernetes creates the pod backend over an existing clientset.
func NewKubernetes(client kubernetes.Interface, cfg KubernetesConfig) (*Kubernetes, error) {
	if cfg.Namespace == "" {
		return nil, fmt.Errorf("kubernetes spawner: a namespace is required")
	}
	if cfg.Image == "" && len(cfg.PodTemplate) == 0 {
		return nil, fmt.Errorf("kubernetes spawner: an image or pod template is required")
	}
	if cfg.StartTimeout <= 0 {
		cfg.StartTimeout = 3 * time.Minute
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = time.Minute
	}
	if len(cfg.PodTemplate) > 0 {
		var probe corev1.Pod
		if err := yaml.Unmarshal(cfg.PodTemplate, &probe); err != nil {
			return nil, fmt.Errorf("kubernetes spawner: invalid pod template: %w", err)
		}
	}
	return &Kubernetes{cfg: cfg, client: client}, nil
}

// podName builds a DNS-safe pod name for a server.
func podName(req Request) string {
	name := "hub-" + req.Username
	if req.ServerName != "" {
		name += "-" + req.ServerName
	}
	return strings.ToLower(name)
}

func (k *Kubernetes) buildPod(req Request) (*corev1.Pod, error) {
	pod := &corev1.Pod{}
	if len(k.cfg.PodTemplate) > 0 {
		if err := yaml.Unmarshal(k.cfg.PodTemplate, pod); err != nil {
			return nil, fmt.Errorf("decoding pod template: %w", err)
		}
	}
	pod.Name = podName(req)
	pod.Namespace = k.cfg.Namespace
	if pod.Labels == nil {
		pod.Labels = map[string]string{}
	}
	pod.Labels[managedByLabel] = "hub"
	pod.Labels["hub.io/user"] = req.Username
	pod.Spec.RestartPolicy = corev1.RestartPolicyNever

	if len(pod.Spec.Containers) == 0 {
		pod.Spec.Containers = []corev1.Container{{Name: "server"}}
	}
	container := &pod.Spec.Containers[0]
	if k.cfg.Image != "" {
		container.Image = k.cfg.Image
	}
	if len(k.cfg.Command) > 0 {
		argv, err := RenderCommand(k.cfg.Command, req)
		if err != nil {
			return nil, err
		}
		container.Command = argv
	}
	container.Ports = []corev1.ContainerPort{{ContainerPort: int32(req.Port)}}

	env, err := RenderEnv(k.cfg.Env, req)
	if err != nil {
		return nil, err
	}
	for name, value := range req.Env {
		env[name] = value
	}
	for name, value := range env {
		container.Env = append(container.Env, corev1.EnvVar{Name: name, Value: value})
	}
	return pod, nil
}

// Start implements Spawner. It creates the pod and waits for an IP so the
// returned URL is routable; full readiness is still probed by the state
// machine.
func (k *Kubernetes) Start(ctx context.Context, req Request) (*StartResult, error) {
	pod, err := k.buildPod(req)
	if err != nil {
		return nil, err
	}
	pods := k.client.CoreV1().Pods(k.cfg.Namespace)
	created, err := pods.Create(ctx, pod, metav1.CreateOptions{})
	if apierrors.IsAlreadyExists(err) {
		// Leftover from a crashed transition; replace it.
		if delErr := pods.Delete(ctx, pod.Name, metav1.DeleteOptions{}); delErr != nil {
			return nil, fmt.Errorf("replacing leftover pod %s: %w", pod.Name, delErr)
		}
		if err := k.waitGone(ctx, pod.Name); err != nil {
			return nil, err
		}
		created, err = pods.Create(ctx, pod, metav1.CreateOptions{})
	}
	if err != nil {
		return nil, fmt.Errorf("creating pod %s: %w", pod.Name, err)
	}

	ip, err := k.waitForIP(ctx, created.Name)
	if err != nil {
		// The pod may still be scheduling; tear it down so a retry
		// starts clean.
		_ = pods.Delete(context.WithoutCancel(ctx), created.Name, metav1.DeleteOptions{})
		return nil, err
	}

	handle, err := json.Marshal(kubeHandle{Namespace: k.cfg.Namespace, Pod: created.Name})
	if err != nil {
		return nil, err
	}
	logging.Info("Spawner", "started %s/%s as pod %s (%s)", req.Username, req.ServerName, created.Name, ip)
	return &StartResult{
		Handle: handle,
		URL:    fmt.Sprintf("http://%s:%d", ip, req.Port),
	}, nil
}

func (k *Kubernetes) waitForIP(ctx context.Context, name string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, k.cfg.StartTimeout)
	defer cancel()
	tick := time.NewTicker(time.Second)
	defer tick.Stop()
	for {
		pod, err := k.client.CoreV1().Pods(k.cfg.Namespace).Get(ctx, name, metav1.GetOptions{})
		if err == nil {
			switch pod.Status.Phase {
			case corev1.PodFailed, corev1.PodSucceeded:
				return "", fmt.Errorf("pod %s terminated before serving (%s)", name, pod.Status.Phase)
			}
			if pod.Status.PodIP != "" {
				return pod.Status.PodIP, nil
			}
		}
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("waiting for pod %s IP: %w", name, ctx.Err())
		case <-tick.C:
		}
	}
}

func decodeKubeHandle(handle []byte) (kubeHandle, error) {
	var h kubeHandle
	if err := json.Unmarshal(handle, &h); err != nil || h.Pod == "" {
		return kubeHandle{}, ErrUnknownHandle
	}
	return h, nil
}

// Poll implements Spawner.
func (k *Kubernetes) Poll(ctx context.Context, handle []byte) (bool, error) {
	h, err := decodeKubeHandle(handle)
	if err != nil {
		return false, err
	}
	pod, err := k.client.CoreV1().Pods(h.Namespace).Get(ctx, h.Pod, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	switch pod.Status.Phase {
	case corev1.PodFailed, corev1.PodSucceeded:
		return false, nil
	}
	return true, nil
}

// Stop implements Spawner.
func (k *Kubernetes) Stop(ctx context.Context, handle []byte) error {
	h, err := decodeKubeHandle(handle)
	if err != nil {
		return err
	}
	err = k.client.CoreV1().Pods(h.Namespace).Delete(ctx, h.Pod, metav1.DeleteOptions{})
	if apierrors.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("deleting pod %s: %w", h.Pod, err)
	}
	return k.waitGone(ctx, h.Pod)
}

func (k *Kubernetes) waitGone(ctx context.Context, name string) error {
	ctx, cancel := context.WithTimeout(ctx, k.cfg.StopTimeout)
	defer cancel()
	tick := time.NewTicker(time.Second)
	defer tick.Stop()
	for {
		_, err := k.client.CoreV1().Pods(k.cfg.Namespace).Get(ctx, name, metav1.GetOptions{})
		if apierrors.IsNotFound(err) {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for pod %s to terminate: %w", name, ctx.Err())
		case <-tick.C:
		}
	}
}

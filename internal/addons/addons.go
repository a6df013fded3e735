// Package addons turns the addon list of an OdooCluster into the init units
// that fetch each repository before the application starts.
package addons

import (
	"fmt"
	"path"
	"strings"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	"k8s.io/apimachinery/pkg/util/validation"
	"k8s.io/utils/ptr"

	"github.com/vaheed/odoonova/internal/lib/tenanterr"
	v1alpha1 "github.com/vaheed/odoonova/pkg/api/v1alpha1"
)

const (
	// MountPath is where the shared addons volume is mounted in every unit
	// and in the application container.
	MountPath = "/mnt/addons"
	// ExtraAddonsPath is the image's built-in addon directory, always first.
	ExtraAddonsPath = "/mnt/extra-addons"

	DefaultImage  = "alpine/git:2.45.2"
	DefaultBranch = "main"

	containerPrefix = "addon-"
	keysRoot        = "/keys"
	keyVolumePrefix = "deploy-key-"
	keyFile         = "ssh-privatekey"
)

// cloneScript keeps one checkout per addon on the shared volume in step with
// the spec. An existing checkout of the same repository is moved to the tip
// of the requested branch; a checkout of another repository is replaced.
const cloneScript = `set -eu
git config --global --add safe.directory '*'
if [ -d "$ADDON_PATH/.git" ]; then
  origin=$(git -C "$ADDON_PATH" remote get-url origin 2>/dev/null || true)
  if [ "$origin" != "$ADDON_REPO" ]; then
    echo "addon $ADDON_NAME now points at $ADDON_REPO, cloning again"
    rm -rf "$ADDON_PATH"
  fi
fi
if [ -d "$ADDON_PATH/.git" ]; then
  echo "updating addon $ADDON_NAME to $ADDON_BRANCH"
  git -C "$ADDON_PATH" fetch --depth 1 origin "$ADDON_BRANCH"
  git -C "$ADDON_PATH" checkout --force -B "$ADDON_BRANCH" FETCH_HEAD
  git -C "$ADDON_PATH" clean -ffdx
else
  git clone --depth 1 --branch "$ADDON_BRANCH" "$ADDON_REPO" "$ADDON_PATH"
fi
`

// Unit fetches one addon into its own directory of the shared volume.
type Unit struct {
	Name      string
	Path      string
	Container corev1.Container
}

// Plan is the ordered fetch sequence plus the volumes it needs.
type Plan struct {
	Units []Unit
	// Volumes are the deploy key volumes. The shared addons volume is owned by the caller.
	Volumes []corev1.Volume
	// AddonsPath is the value for odoo.conf addons_path.
	AddonsPath string
	// Modules are installed when the database is initialized, in list order.
	Modules []string
}

// InitContainers returns the units' containers in fetch order.
func (p *Plan) InitContainers() []corev1.Container {
	out := make([]corev1.Container, 0, len(p.Units))
	for _, u := range p.Units {
		out = append(out, u.Container)
	}
	return out
}

// Empty reports whether there is nothing to fetch.
func (p *Plan) Empty() bool { return len(p.Units) == 0 }

// InitModules is the module list for odoo --init: base, then every addon
// module marked for install.
func (p *Plan) InitModules() string {
	return strings.Join(append([]string{"base"}, p.Modules...), ",")
}

// Options tune the generated containers.
type Options struct {
	Image string
	// VolumeName is the name of the pod volume backing MountPath.
	VolumeName string
}

// Validate checks addon names, repositories and deploy key references.
func Validate(addons []v1alpha1.AddonSpec) tenanterr.ValidationErrors {
	var errs tenanterr.ValidationErrors
	seen := make(map[string]bool, len(addons))
	for i, a := range addons {
		field := fmt.Sprintf("application.addons[%d]", i)
		switch msgs := validation.IsDNS1123Label(containerPrefix + a.Name); {
		case a.Name == "":
			errs = append(errs, tenanterr.Invalid(field+".name", "must not be empty"))
		case len(msgs) > 0:
			errs = append(errs, tenanterr.Invalid(field+".name", "invalid addon name %q: %s", a.Name, strings.Join(msgs, ", ")))
		case seen[a.Name]:
			errs = append(errs, tenanterr.Invalid(field+".name", "duplicate addon name %q", a.Name))
		}
		seen[a.Name] = true
		if strings.TrimSpace(a.GitRepo) == "" {
			errs = append(errs, tenanterr.Invalid(field+".gitRepo", "must not be empty"))
		}
		if a.DeployKeySecretRef != nil && strings.TrimSpace(*a.DeployKeySecretRef) == "" {
			errs = append(errs, tenanterr.Invalid(field+".deployKeySecretRef", "referenced secret name is empty"))
		}
		switch {
		case a.Install && a.Path == "":
			errs = append(errs, tenanterr.Invalid(field+".path", "must be set when install is true"))
		case a.Path != "" && !validModule(a.Path):
			errs = append(errs, tenanterr.Invalid(field+".path", "invalid module name %q", a.Path))
		}
	}
	return errs
}

// validModule accepts a single directory name usable in a comma separated
// odoo module list.
func validModule(name string) bool {
	if name == "." || name == ".." {
		return false
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-', r == '.':
		default:
			return false
		}
	}
	return true
}

// Resolve builds one fetch unit per addon in list order. Units share the
// volume named in opts and mount each distinct deploy key once, read only.
func Resolve(addons []v1alpha1.AddonSpec, opts Options) (*Plan, error) {
	if err := Validate(addons).Err(); err != nil {
		return nil, err
	}
	image := opts.Image
	if image == "" {
		image = DefaultImage
	}
	volumeName := opts.VolumeName
	if volumeName == "" {
		volumeName = "addons"
	}

	plan := &Plan{}
	paths := []string{ExtraAddonsPath}
	keyVolumes := map[string]string{}

	for _, a := range addons {
		target := path.Join(MountPath, a.Name)
		paths = append(paths, target)
		branch := a.Branch
		if branch == "" {
			branch = DefaultBranch
		}

		c := corev1.Container{
			Name:    containerPrefix + a.Name,
			Image:   image,
			Command: []string{"/bin/sh", "-c", cloneScript},
			Env: []corev1.EnvVar{
				{Name: "ADDON_NAME", Value: a.Name},
				{Name: "ADDON_REPO", Value: a.GitRepo},
				{Name: "ADDON_BRANCH", Value: branch},
				{Name: "ADDON_PATH", Value: target},
				{Name: "HOME", Value: "/tmp"},
			},
			VolumeMounts: []corev1.VolumeMount{{Name: volumeName, MountPath: MountPath}},
			Resources: corev1.ResourceRequirements{
				Requests: corev1.ResourceList{
					corev1.ResourceCPU:    resource.MustParse("50m"),
					corev1.ResourceMemory: resource.MustParse("64Mi"),
				},
			},
		}

		if a.DeployKeySecretRef != nil {
			secret := *a.DeployKeySecretRef
			vol, ok := keyVolumes[secret]
			if !ok {
				vol = fmt.Sprintf("%s%d", keyVolumePrefix, len(keyVolumes))
				keyVolumes[secret] = vol
				plan.Volumes = append(plan.Volumes, corev1.Volume{
					Name: vol,
					VolumeSource: corev1.VolumeSource{
						Secret: &corev1.SecretVolumeSource{
							SecretName:  secret,
							DefaultMode: ptr.To[int32](0o400),
						},
					},
				})
			}
			keyDir := path.Join(keysRoot, secret)
			c.VolumeMounts = append(c.VolumeMounts, corev1.VolumeMount{Name: vol, MountPath: keyDir, ReadOnly: true})
			c.Env = append(c.Env, corev1.EnvVar{
				Name:  "GIT_SSH_COMMAND",
				Value: fmt.Sprintf("ssh -i %s -o StrictHostKeyChecking=accept-new -o UserKnownHostsFile=/tmp/known_hosts", path.Join(keyDir, keyFile)),
			})
		}

		plan.Units = append(plan.Units, Unit{Name: a.Name, Path: target, Container: c})
		if a.Install {
			plan.Modules = append(plan.Modules, a.Path)
		}
	}
	plan.AddonsPath = strings.Join(paths, ",")
	return plan, nil
}

package builder

import (
	"strings"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/utils/ptr"
)

const FilestoreBackupImage = "amazon/aws-cli:2.17.0"

var cronJobGVK = batchv1.SchemeGroupVersion.WithKind("CronJob")

// filestoreBackupScript syncs the filestore into a timestamped prefix and a
// rolling "latest" copy, then prunes prefixes older than the retention.
const filestoreBackupScript = `set -eu
export AWS_ACCESS_KEY_ID="$ACCESS_KEY_ID"
export AWS_SECRET_ACCESS_KEY="$SECRET_ACCESS_KEY"
STAMP=$(date +%Y%m%d_%H%M%S)
aws s3 sync /var/lib/odoo/filestore/ "$DESTINATION/$STAMP/" --only-show-errors
aws s3 sync /var/lib/odoo/filestore/ "$DESTINATION/latest/" --delete --only-show-errors
CUTOFF=$(date -d "@$(( $(date +%s) - RETENTION_DAYS * 86400 ))" +%Y%m%d)
aws s3 ls "$DESTINATION/" | awk '{print $2}' | tr -d '/' | while read -r prefix; do
  case "$prefix" in
    [0-9][0-9][0-9][0-9][0-9][0-9][0-9][0-9]_*)
      if [ "${prefix%%_*}" \< "$CUTOFF" ]; then
        aws s3 rm "$DESTINATION/$prefix/" --recursive --only-show-errors
      fi
      ;;
  esac
done
`

func (b *setBuilder) filestoreBackup() error {
	bk := b.spec.Database.Backup
	if bk == nil || !bk.Filestore {
		return nil
	}
	n := b.names
	env := []corev1.EnvVar{
		secretEnv("ACCESS_KEY_ID", bk.ObjectStoreSecretRef, "ACCESS_KEY_ID"),
		secretEnv("SECRET_ACCESS_KEY", bk.ObjectStoreSecretRef, "SECRET_ACCESS_KEY"),
		{Name: "DESTINATION", Value: strings.TrimSuffix(bk.DestinationPath, "/") + "/filestore"},
		{Name: "RETENTION_DAYS", Value: retentionDays(bk.Retention)},
	}
	if bk.EndpointURL != "" {
		env = append(env, corev1.EnvVar{Name: "AWS_ENDPOINT_URL", Value: bk.EndpointURL})
	}
	labels := StandardLabels(b.cluster.Name, ComponentBackup)

	job := &batchv1.CronJob{
		ObjectMeta: b.objectMeta(n.FilestoreBackup, ComponentBackup),
		Spec: batchv1.CronJobSpec{
			Schedule:                   bk.FilestoreSchedule,
			ConcurrencyPolicy:          batchv1.ForbidConcurrent,
			SuccessfulJobsHistoryLimit: ptr.To[int32](3),
			FailedJobsHistoryLimit:     ptr.To[int32](3),
			JobTemplate: batchv1.JobTemplateSpec{
				Spec: batchv1.JobSpec{
					BackoffLimit: ptr.To[int32](2),
					Template: corev1.PodTemplateSpec{
						ObjectMeta: metav1.ObjectMeta{Labels: labels},
						Spec: corev1.PodSpec{
							RestartPolicy: corev1.RestartPolicyOnFailure,
							Containers: []corev1.Container{{
								Name:         "backup",
								Image:        FilestoreBackupImage,
								Command:      []string{"/bin/sh", "-c", filestoreBackupScript},
								Env:          env,
								VolumeMounts: []corev1.VolumeMount{{Name: volumeFilestore, MountPath: odooDataDir, ReadOnly: true}},
								Resources:    resources("100m", "256Mi", "500m", "512Mi"),
							}},
							Volumes: []corev1.Volume{pvcVolume(volumeFilestore, n.AppFilestore)},
						},
					},
				},
			},
		},
	}
	b.add(job, cronJobGVK, Desired{Component: ComponentBackup, Stage: StageWorkloads})
	return nil
}

// retentionDays extracts the day count of a retention such as "30d".
// Other units fall back to thirty days.
func retentionDays(retention string) string {
	r := strings.TrimSpace(retention)
	if d, ok := strings.CutSuffix(r, "d"); ok && d != "" && strings.Trim(d, "0123456789") == "" {
		return d
	}
	return "30"
}

package testutils

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"
)

const (
	MinioUser     = "antfsantfs"
	MinioPassword = "antfsantfs"
)

// SetupMinio starts a throwaway minio container and returns its endpoint. The test is skipped
// when docker cannot be reached.
func SetupMinio(t *testing.T) string {
	t.Helper()

	pool, err := dockertest.NewPool("")
	if err == nil {
		err = pool.Client.Ping()
	}
	if err != nil {
		t.Skipf("docker unavailable: %v", err)
	}

	options := &dockertest.RunOptions{
		Repository: "minio/minio",
		Tag:        "latest",
		Cmd:        []string{"server", "/data"},
		Env:        []string{"MINIO_ROOT_USER=" + MinioUser, "MINIO_ROOT_PASSWORD=" + MinioPassword},
	}

	resource, err := pool.RunWithOptions(options, func(config *docker.HostConfig) {
		config.AutoRemove = true
		config.RestartPolicy = docker.RestartPolicy{
			Name: "no",
		}
	})
	if err != nil {
		t.Fatalf("could not start minio: %v", err)
	}

	t.Cleanup(func() {
		err := pool.Purge(resource)
		if err != nil {
			t.Logf("could not purge minio: %v", err)
		}
	})

	err = resource.Expire(180)
	if err != nil {
		t.Fatalf("could not set minio expiry: %v", err)
	}
	endpoint := fmt.Sprintf("localhost:%s", resource.GetPort("9000/tcp"))

	err = pool.Retry(func() error {
		resp, err := http.Get(fmt.Sprintf("http://%s/minio/health/live", endpoint))
		if err != nil {
			return err
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("minio health %d", resp.StatusCode)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("minio never came up: %v", err)
	}
	return endpoint
}

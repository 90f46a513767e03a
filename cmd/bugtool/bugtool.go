package bugtool

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"time"

	"github.com/ghodss/yaml"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/sidkik/viewsync/cmd/util"
	"github.com/sidkik/viewsync/pkg/agent"
	"github.com/sidkik/viewsync/pkg/config"
	"github.com/sidkik/viewsync/pkg/errors"
	"github.com/sidkik/viewsync/pkg/version"
)

var fs = afero.NewOsFs()

// Mocked for unit testing.
var agentOutput = func(ctx context.Context, user config.User, args ...string) ([]byte, error) {
	return agent.New(user.AgentPath, user.AgentDataDir(), ioutil.Discard).Output(ctx, args...)
}

// New creates a new `bug-tool` command.
func New() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "bug-tool",
		Short: "Generate an archive for viewsync debugging",
		Run:   func(_ *cobra.Command, _ []string) { main(out) },
	}
	cmd.Flags().StringVar(&out, "out", "", "path for archive")
	return cmd
}

func main(out string) {
	tmpdir, err := afero.TempDir(fs, "", "viewsync-bug-tool")
	if err != nil {
		err = errors.NewFriendlyError("Failed to create out directory:\n%s", err)
		util.HandleFatalError(err)
	}

	// Wrap defer in a function to handle errors from fs.RemoveAll().
	defer func() {
		err := fs.RemoveAll(tmpdir)
		if err != nil {
			util.HandleFatalError(err)
		}
	}()

	setupInfo(tmpdir)

	if out == "" {
		out = fmt.Sprintf("viewsync-bug-info-%s.tar.gz",
			time.Now().Format("Jan_02_2006-15-04-05"))
	}
	if err := tarDirectory(tmpdir, out); err != nil {
		err = errors.NewFriendlyError("Failed to tar:\n%s", err)
		util.HandleFatalError(err)
	}

	msg := `Created bug information archive at '%s'.
You may want to edit the archive before sharing it, since it contains the
paths of your views.
The archive contains:
 * The viewsync logs.
 * The sync agent logs.
 * The user config, without the API token.
 * The sync sessions known to the agent.
 * The version of viewsync and of the sync agent.
`
	fmt.Printf(msg, out)
}

func setupInfo(root string) {
	userConfig, err := config.ParseUser()
	if err != nil {
		log.WithError(err).Error("Failed to parse user config")
		return
	}

	logs := []struct{ src, dst string }{
		{userConfig.LogPath(), "viewsync.log"},
		{userConfig.AgentLogPath(), "agent.log"},
	}
	for _, l := range logs {
		if err := copyFile(l.src, filepath.Join(root, l.dst)); err != nil {
			log.WithError(err).WithField("path", l.src).Warn("Failed to copy log")
		}
	}

	if err := setupUserConfig(root, userConfig); err != nil {
		log.WithError(err).Warn("Failed to setup user config")
	}

	ctx := context.Background()
	if err := setupSessions(ctx, root, userConfig); err != nil {
		log.WithError(err).Warn("Failed to setup sessions")
	}

	if err := setupVersion(ctx, root, userConfig); err != nil {
		log.WithError(err).Warn("Failed to setup version info")
	}
}

func copyFile(src, dst string) error {
	in, err := fs.Open(src)
	if err != nil {
		return errors.WithContext(err, "open log")
	}
	defer in.Close()

	out, err := fs.Create(dst)
	if err != nil {
		return errors.WithContext(err, "open destination")
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return errors.WithContext(err, "copy")
	}
	return nil
}

func setupUserConfig(root string, userConfig config.User) error {
	if userConfig.Token != "" {
		userConfig.Token = "REDACTED"
	}

	configBytes, err := yaml.Marshal(userConfig)
	if err != nil {
		return errors.WithContext(err, "marshal")
	}
	return afero.WriteFile(fs, filepath.Join(root, "config.yaml"), configBytes, 0644)
}

func setupSessions(ctx context.Context, root string, userConfig config.User) error {
	sessions, err := agentOutput(ctx, userConfig, "sync", "list", "--json")
	if err != nil {
		return errors.WithContext(err, "list sessions")
	}

	// Store the sessions as YAML so that they're easier to read, but fall
	// back to the raw output if it isn't plain JSON.
	if pretty, err := yaml.JSONToYAML(sessions); err == nil {
		sessions = pretty
	} else {
		log.WithError(err).Debug("Failed to convert sessions to YAML")
	}
	return afero.WriteFile(fs, filepath.Join(root, "sessions.yaml"), sessions, 0644)
}

func setupVersion(ctx context.Context, root string, userConfig config.User) error {
	outdir := filepath.Join(root, "version")
	if err := fs.Mkdir(outdir, 0755); err != nil {
		return errors.WithContext(err, "mkdir")
	}

	localVersion := fmt.Sprintf("local version: %s\n", version.Version)
	if err := afero.WriteFile(fs, filepath.Join(outdir, "local"), []byte(localVersion), 0644); err != nil {
		return errors.WithContext(err, "write")
	}

	agentVersion, err := agentOutput(ctx, userConfig, "version")
	if err != nil {
		return errors.WithContext(err, "get agent version")
	}
	return afero.WriteFile(fs, filepath.Join(outdir, "agent"), agentVersion, 0644)
}

func tarDirectory(src, outPath string) error {
	out, err := fs.Create(outPath)
	if err != nil {
		return errors.WithContext(err, "open destination")
	}
	defer out.Close()

	gzw := gzip.NewWriter(out)
	defer gzw.Close()

	tw := tar.NewWriter(gzw)
	defer tw.Close()

	return afero.Walk(fs, src, func(file string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		header, err := tar.FileInfoHeader(fi, fi.Name())
		if err != nil {
			return errors.WithContext(err, fmt.Sprintf("make header %s", file))
		}

		relPath, err := filepath.Rel(src, file)
		if err != nil {
			return errors.WithContext(err, fmt.Sprintf("get relative path of %s to %s", file, src))
		}

		header.Name = filepath.Join("viewsync-bug-info", relPath)
		if err := tw.WriteHeader(header); err != nil {
			return errors.WithContext(err, fmt.Sprintf("write %s header", file))
		}

		// Only write contents if it's a file (i.e. not a directory).
		if !fi.Mode().IsRegular() {
			return nil
		}

		f, err := fs.Open(file)
		if err != nil {
			return errors.WithContext(err, fmt.Sprintf("open %s", file))
		}
		defer f.Close()

		if _, err := io.Copy(tw, f); err != nil {
			return errors.WithContext(err, fmt.Sprintf("copy %s", file))
		}
		return nil
	})
}

package sandbox

import "context"

// installMarker maps a marker file present at the workspace root to the
// dependency-install command it implies (spec.md §4.5: "package.json→npm,
// requirements.txt→pip, *.yaml→conda/mamba, go.mod→go mod, etc."). Checked
// in order; the first match wins, mirroring a project's own convention of
// picking one package manager per repo.
type installMarker struct {
	file    string
	command string
}

var installMarkers = []installMarker{
	{file: "package-lock.json", command: "npm ci"},
	{file: "package.json", command: "npm install"},
	{file: "Pipfile", command: "pipenv install"},
	{file: "requirements.txt", command: "pip install -r requirements.txt"},
	{file: "pyproject.toml", command: "pip install ."},
	{file: "environment.yaml", command: "conda env update -f environment.yaml"},
	{file: "environment.yml", command: "conda env update -f environment.yml"},
	{file: "go.mod", command: "go mod download"},
	{file: "Gemfile", command: "bundle install"},
	{file: "Cargo.toml", command: "cargo fetch"},
	{file: "composer.json", command: "composer install"},
}

// detectInstallCommands probes the workspace for each known marker file
// (via a plain `test -f` in the container, so detection doesn't need a
// host-side checkout) and returns the install commands for every marker
// found, in table order.
func detectInstallCommands(ctx context.Context, m *Manager, record *ContainerRecord) ([]string, error) {
	var commands []string
	for _, marker := range installMarkers {
		exists, err := m.fileExists(ctx, record, marker.file)
		if err != nil {
			return nil, err
		}
		if exists {
			commands = append(commands, marker.command)
		}
	}
	return commands, nil
}

func (m *Manager) fileExists(ctx context.Context, record *ContainerRecord, name string) (bool, error) {
	result, err := m.execRaw(ctx, record.ContainerID, []string{"test", "-f", record.WorkspacePath + "/" + name}, record.WorkspacePath)
	if err != nil {
		return false, err
	}
	return result.ExitCode == 0, nil
}

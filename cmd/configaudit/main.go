package main

import (
	"bufio"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

const (
	defaultComposePath = "docker-compose.yml"
	defaultServiceName = "geodeposit"
	defaultAppAddress  = ":8080"
	supportedDBDriver  = "sqlite"
	minimumSecretBytes = 32

	environmentKeyAppAddress    = "APP_ADDR"
	environmentKeyFidealisURL   = "API_URL"
	environmentKeyGoogleAPIKey  = "GOOGLE_API_KEY"
	environmentKeySessionSecret = "SESSION_SECRET"
	environmentKeyDatabaseName  = "DB_DRIVER"
	environmentKeyWorkDirectory = "WORK_DIR"
	environmentKeyTempRetention = "TEMP_RETENTION"
)

var (
	errAuditFailed = errors.New("config_audit_failed")

	requiredEnvironmentKeys = []string{
		environmentKeyFidealisURL,
		"API_KEY",
		"ACCOUNT_KEY",
		environmentKeySessionSecret,
	}
)

type stringList []string

func (list *stringList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		*list = nil
		if value := strings.TrimSpace(node.Value); value != "" {
			*list = []string{value}
		}
		return nil
	case yaml.SequenceNode:
		entries := make([]string, 0, len(node.Content))
		for _, child := range node.Content {
			if value := strings.TrimSpace(child.Value); value != "" {
				entries = append(entries, value)
			}
		}
		*list = entries
		return nil
	default:
		return fmt.Errorf("unsupported yaml node kind %d for list", node.Kind)
	}
}

// environmentMap accepts both the mapping and the KEY=value list forms of compose environments.
type environmentMap map[string]string

func (environment *environmentMap) UnmarshalYAML(node *yaml.Node) error {
	normalized := make(map[string]string)
	switch node.Kind {
	case yaml.MappingNode:
		decoded := make(map[string]string)
		if err := node.Decode(&decoded); err != nil {
			return err
		}
		for key, value := range decoded {
			normalized[strings.TrimSpace(key)] = strings.TrimSpace(value)
		}
	case yaml.SequenceNode:
		var decoded []string
		if err := node.Decode(&decoded); err != nil {
			return err
		}
		for _, entry := range decoded {
			key, value, _ := strings.Cut(strings.TrimSpace(entry), "=")
			if key = strings.TrimSpace(key); key != "" {
				normalized[key] = strings.TrimSpace(value)
			}
		}
	default:
		return fmt.Errorf("unsupported yaml node kind %d for environment", node.Kind)
	}
	*environment = normalized
	return nil
}

type composeFile struct {
	Services map[string]composeService `yaml:"services"`
}

type composeService struct {
	EnvFile     stringList     `yaml:"env_file"`
	Environment environmentMap `yaml:"environment"`
	Volumes     stringList     `yaml:"volumes"`
	Ports       stringList     `yaml:"ports"`
}

type auditResult struct {
	errors   []string
	warnings []string
}

func (result *auditResult) addError(message string, arguments ...any) {
	result.errors = append(result.errors, fmt.Sprintf(message, arguments...))
}

func (result *auditResult) addWarning(message string, arguments ...any) {
	result.warnings = append(result.warnings, fmt.Sprintf(message, arguments...))
}

func (result auditResult) ok() bool {
	return len(result.errors) == 0
}

func main() {
	flagSet := pflag.NewFlagSet("configaudit", pflag.ExitOnError)
	composePath := flagSet.String("compose", defaultComposePath, "docker compose file to audit")
	serviceName := flagSet.String("service", defaultServiceName, "compose service running the deposit server")
	_ = flagSet.Parse(os.Args[1:])

	result := runAudit(*composePath, *serviceName)
	sort.Strings(result.errors)
	sort.Strings(result.warnings)

	for _, warning := range result.warnings {
		_, _ = fmt.Fprintf(os.Stdout, "WARN: %s\n", warning)
	}
	for _, errorMessage := range result.errors {
		_, _ = fmt.Fprintf(os.Stderr, "ERROR: %s\n", errorMessage)
	}
	if !result.ok() {
		_, _ = fmt.Fprintf(os.Stderr, "config-audit failed\n")
		os.Exit(1)
	}
	_, _ = fmt.Fprintf(os.Stdout, "config-audit OK\n")
}

func runAudit(composePath string, serviceName string) auditResult {
	var result auditResult

	composeDocument, readErr := os.ReadFile(composePath)
	if readErr != nil {
		result.addError("read compose file %s: %v", composePath, readErr)
		return result
	}

	var compose composeFile
	if decodeErr := yaml.Unmarshal(composeDocument, &compose); decodeErr != nil {
		result.addError("parse compose file %s: %v", composePath, decodeErr)
		return result
	}

	service, found := compose.Services[serviceName]
	if !found {
		result.addError("compose file %s: service %s is not defined", composePath, serviceName)
		return result
	}

	environment, envErr := loadServiceEnvironment(filepath.Dir(composePath), serviceName, service, &result)
	if envErr != nil {
		result.addError("service %s: %v", serviceName, envErr)
		return result
	}

	checkRequiredEnvironment(serviceName, environment, &result)
	checkEnvironmentValues(serviceName, environment, &result)
	checkWorkDirectoryVolume(serviceName, environment, service.Volumes, &result)
	checkPublishedPort(serviceName, environment, service.Ports, &result)
	checkHostPortCollisions(compose.Services, &result)

	return result
}

func loadServiceEnvironment(composeDirectory string, serviceName string, service composeService, result *auditResult) (map[string]string, error) {
	merged := make(map[string]string)
	for _, envFile := range service.EnvFile {
		resolvedPath := filepath.Clean(filepath.Join(composeDirectory, envFile))
		values, duplicates, parseErr := parseDotEnv(resolvedPath)
		if parseErr != nil {
			result.addError("service %s: env_file %s: %v", serviceName, envFile, parseErr)
			continue
		}
		for _, duplicate := range duplicates {
			result.addError("service %s: env_file %s defines %s more than once", serviceName, envFile, duplicate)
		}
		for key, value := range values {
			merged[key] = value
		}
	}
	for key, value := range service.Environment {
		merged[key] = value
	}
	if len(merged) == 0 {
		return nil, fmt.Errorf("%w: no environment variables resolved", errAuditFailed)
	}
	return merged, nil
}

func parseDotEnv(path string) (map[string]string, []string, error) {
	file, openErr := os.Open(path)
	if openErr != nil {
		return nil, nil, openErr
	}
	defer func() { _ = file.Close() }()

	entries := make(map[string]string)
	duplicateSet := make(map[string]struct{})
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(strings.TrimPrefix(line, "export "), "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			continue
		}
		if _, already := entries[key]; already {
			duplicateSet[key] = struct{}{}
		}
		entries[key] = strings.Trim(strings.TrimSpace(value), `"'`)
	}
	if scanErr := scanner.Err(); scanErr != nil {
		return nil, nil, scanErr
	}

	duplicates := make([]string, 0, len(duplicateSet))
	for key := range duplicateSet {
		duplicates = append(duplicates, key)
	}
	sort.Strings(duplicates)
	return entries, duplicates, nil
}

func checkRequiredEnvironment(serviceName string, environment map[string]string, result *auditResult) {
	for _, key := range requiredEnvironmentKeys {
		if strings.TrimSpace(environment[key]) == "" {
			result.addError("service %s: required env %s is missing or empty", serviceName, key)
		}
	}
	if strings.TrimSpace(environment[environmentKeyGoogleAPIKey]) == "" {
		result.addWarning("service %s: %s is empty, address lookups will fail", serviceName, environmentKeyGoogleAPIKey)
	}
}

func checkEnvironmentValues(serviceName string, environment map[string]string, result *auditResult) {
	if rawURL := strings.TrimSpace(environment[environmentKeyFidealisURL]); rawURL != "" {
		parsedURL, parseErr := url.Parse(rawURL)
		if parseErr != nil || (parsedURL.Scheme != "http" && parsedURL.Scheme != "https") || parsedURL.Host == "" {
			result.addError("service %s: %s must be an absolute http(s) URL", serviceName, environmentKeyFidealisURL)
		}
	}

	if secret := strings.TrimSpace(environment[environmentKeySessionSecret]); secret != "" && len(secret) < minimumSecretBytes {
		result.addWarning("service %s: %s is shorter than %d bytes", serviceName, environmentKeySessionSecret, minimumSecretBytes)
	}

	if rawRetention := strings.TrimSpace(environment[environmentKeyTempRetention]); rawRetention != "" {
		retention, parseErr := time.ParseDuration(rawRetention)
		if parseErr != nil || retention <= 0 {
			result.addError("service %s: %s=%q is not a positive duration", serviceName, environmentKeyTempRetention, rawRetention)
		}
	}

	if driver := strings.TrimSpace(environment[environmentKeyDatabaseName]); driver != "" && driver != supportedDBDriver {
		result.addError("service %s: %s=%q is not supported", serviceName, environmentKeyDatabaseName, driver)
	}
}

func checkWorkDirectoryVolume(serviceName string, environment map[string]string, volumes []string, result *auditResult) {
	workDirectory := strings.TrimSpace(environment[environmentKeyWorkDirectory])
	if workDirectory == "" {
		return
	}
	for _, volume := range volumes {
		_, containerPath, ok := parseVolumeMapping(volume)
		if !ok {
			continue
		}
		cleanedContainerPath := path.Clean(containerPath)
		cleanedWorkDirectory := path.Clean(workDirectory)
		if cleanedWorkDirectory == cleanedContainerPath || strings.HasPrefix(cleanedWorkDirectory, cleanedContainerPath+"/") {
			return
		}
	}
	result.addWarning("service %s: %s=%s is not on a mounted volume", serviceName, environmentKeyWorkDirectory, workDirectory)
}

func checkPublishedPort(serviceName string, environment map[string]string, ports []string, result *auditResult) {
	address := strings.TrimSpace(environment[environmentKeyAppAddress])
	if address == "" {
		address = defaultAppAddress
	}
	_, listenPort, found := strings.Cut(address, ":")
	if !found || listenPort == "" {
		result.addError("service %s: %s=%q has no port", serviceName, environmentKeyAppAddress, address)
		return
	}
	for _, mapping := range ports {
		if _, containerPort, ok := parsePortMapping(mapping); ok && containerPort == listenPort {
			return
		}
	}
	result.addWarning("service %s: container port %s is not published", serviceName, listenPort)
}

func checkHostPortCollisions(services map[string]composeService, result *auditResult) {
	serviceNames := make([]string, 0, len(services))
	for name := range services {
		serviceNames = append(serviceNames, name)
	}
	sort.Strings(serviceNames)

	hostPortToService := make(map[string]string)
	for _, name := range serviceNames {
		for _, mapping := range services[name].Ports {
			hostPort, _, ok := parsePortMapping(mapping)
			if !ok || hostPort == "" {
				continue
			}
			if existingService, already := hostPortToService[hostPort]; already {
				result.addError("compose: host port %s is published by both %s and %s", hostPort, existingService, name)
				continue
			}
			hostPortToService[hostPort] = name
		}
	}
}

func parseVolumeMapping(entry string) (string, string, bool) {
	parts := strings.SplitN(strings.TrimSpace(entry), ":", 3)
	if len(parts) < 2 {
		return "", "", false
	}
	hostPath := strings.TrimSpace(parts[0])
	containerPath := strings.TrimSpace(parts[1])
	if hostPath == "" || containerPath == "" {
		return "", "", false
	}
	return hostPath, containerPath, true
}

// parsePortMapping splits "[ip:]host:container[/proto]" into host and container ports.
func parsePortMapping(mapping string) (string, string, bool) {
	trimmed := strings.Trim(strings.TrimSpace(mapping), `"`)
	trimmed, _, _ = strings.Cut(trimmed, "/")
	parts := strings.Split(trimmed, ":")
	containerPort := strings.TrimSpace(parts[len(parts)-1])
	if !isNumeric(containerPort) {
		return "", "", false
	}
	if len(parts) == 1 {
		return "", containerPort, true
	}
	hostPort := strings.TrimSpace(parts[len(parts)-2])
	if !isNumeric(hostPort) {
		return "", "", false
	}
	return hostPort, containerPort, true
}

func isNumeric(value string) bool {
	if value == "" {
		return false
	}
	for _, runeValue := range value {
		if runeValue < '0' || runeValue > '9' {
			return false
		}
	}
	return true
}

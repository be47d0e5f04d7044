// Package deployment provides pure functions for deployment planning.
//
// Everything here is free of I/O: callers in internal/engine feed project
// and repository metadata in and get names, paths, ports and environment
// maps out, then hand those to the shell packages.
//
// # Functions
//
//   - Naming: ImageName, ContainerName, FrontendName, BackendName, UnitNames,
//     ComposeProject, RouteAlias, BasePath
//   - Layout: ProjectDir, RepositoryDir, ComposePath
//   - Ports: RepositoryPort
//   - Environment: Synthesize, ParseCustomEnv, Serialize
//   - Variables: SubstituteVariables for ${VAR} placeholders
//
// # Usage
//
//	port := deployment.RepositoryPort(project.Port.Int(), repo.Role())
//	env := deployment.Synthesize(deployment.EnvInput{ProjectID: 42, Port: port, ...})
//	dir := deployment.RepositoryDir(root, 42, topology, repo.Role())
package deployment

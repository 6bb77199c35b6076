package build

// SDKBuildDir is where the SDK is mounted inside the build context.
const SDKBuildDir = "/sdk"

// DefaultDockerBinary is the image build tool invoked when none is configured.
const DefaultDockerBinary = "docker"

// DockerBuildCommand returns the argv of the image build. Argument order is fixed:
//
//	docker build --build-arg SDK_DIR=/sdk -t <image> -f <packagePath>/Dockerfile.custom <packagePath>
func DockerBuildCommand(dockerBinary, imageName, packagePath string) []string {
	if dockerBinary == "" {
		dockerBinary = DefaultDockerBinary
	}
	return []string{
		dockerBinary,
		"build",
		"--build-arg", "SDK_DIR=" + SDKBuildDir,
		"-t", imageName,
		"-f", packagePath + "/" + DockerfileName,
		packagePath,
	}
}
